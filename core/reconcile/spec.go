package reconcile

import (
	"fmt"
	"strings"
	"time"
)

// TableSpec is the per-table registration the engine operates on. It names
// the source shape, the watermark strategy, and how deletes are applied.
type TableSpec struct {
	// TableID identifies the reconciled table (e.g. "ORDERS_CDC").
	TableID string

	// Strategy is the watermark strategy kind.
	Strategy StrategyKind

	// SourceSchema and SourceTable locate the source relation.
	SourceSchema string
	SourceTable  string

	// Columns are the payload columns extracted from the source. Payloads
	// carrying any other column are schema mismatches.
	Columns []string

	// KeyColumns are the ordered primary-key columns.
	KeyColumns []string

	// WatermarkColumn is the source column holding the commit sequence.
	WatermarkColumn string

	// SecondaryColumn is the tie-break column for the composite strategy.
	SecondaryColumn string

	// CreatedAtColumn, when set, lets the extractor distinguish inserts
	// from updates (created == watermark column means insert).
	CreatedAtColumn string

	// OperationColumn, when set, names a source column carrying explicit
	// I/U/D codes (CDC audit tables). Without it deletes are invisible to
	// query-based extraction.
	OperationColumn string

	// SoftDelete makes the applier tombstone rows instead of hard-deleting.
	SoftDelete bool

	// BatchSize bounds extraction batches.
	BatchSize int
}

// FullTableName returns the qualified source relation name.
func (s TableSpec) FullTableName() string {
	if s.SourceSchema == "" {
		return s.SourceTable
	}
	return s.SourceSchema + "." + s.SourceTable
}

// HasColumn reports whether a payload column is registered for the table.
func (s TableSpec) HasColumn(name string) bool {
	for _, col := range s.Columns {
		if strings.EqualFold(col, name) {
			return true
		}
	}
	return false
}

// Validate checks the spec is complete enough to reconcile.
func (s TableSpec) Validate() error {
	if s.TableID == "" {
		return fmt.Errorf("table spec: table id is required")
	}
	if s.SourceTable == "" {
		return fmt.Errorf("table spec %s: source table is required", s.TableID)
	}
	if len(s.KeyColumns) == 0 {
		return fmt.Errorf("table spec %s: at least one key column is required", s.TableID)
	}
	if _, err := ForKind(s.Strategy); err != nil {
		return fmt.Errorf("table spec %s: %w", s.TableID, err)
	}
	if s.Strategy != StrategyFullSnapshot && s.WatermarkColumn == "" {
		return fmt.Errorf("table spec %s: watermark column is required for strategy %s", s.TableID, s.Strategy)
	}
	if s.Strategy == StrategyComposite && s.SecondaryColumn == "" {
		return fmt.Errorf("table spec %s: secondary column is required for composite strategy", s.TableID)
	}
	return nil
}

// Config holds the engine configuration for a single reconciled table plus
// the pass scheduling and audit thresholds. Comma-separated list values keep
// the whole section expressible through flat environment variables.
type Config struct {
	// TableID identifies the reconciled table.
	TableID string `mapstructure:"table_id" default:""`
	// Strategy selects the watermark strategy (timestamp, integer, xmin, composite, full_snapshot).
	Strategy string `mapstructure:"strategy" default:"timestamp"`
	// SourceSchema is the source schema name.
	SourceSchema string `mapstructure:"source_schema" default:""`
	// SourceTable is the source table name.
	SourceTable string `mapstructure:"source_table" default:""`
	// Columns is the comma-separated payload column list.
	Columns string `mapstructure:"columns" default:""`
	// KeyColumns is the comma-separated primary-key column list.
	KeyColumns string `mapstructure:"key_columns" default:"id"`
	// WatermarkColumn holds the commit sequence.
	WatermarkColumn string `mapstructure:"watermark_column" default:"updated_at"`
	// SecondaryColumn is the composite-strategy tie-break column.
	SecondaryColumn string `mapstructure:"secondary_column" default:""`
	// CreatedAtColumn distinguishes inserts from updates when set.
	CreatedAtColumn string `mapstructure:"created_at_column" default:""`
	// OperationColumn names an explicit I/U/D code column when set.
	OperationColumn string `mapstructure:"operation_column" default:""`
	// SoftDelete tombstones rows instead of hard-deleting them.
	SoftDelete bool `mapstructure:"soft_delete" default:"false"`
	// BatchSize bounds extraction batches.
	BatchSize int `mapstructure:"batch_size" default:"10000"`
	// PollIntervalSeconds is the pause between periodic passes in the server.
	PollIntervalSeconds int `mapstructure:"poll_interval_seconds" default:"300"`
	// WarnLagSeconds is the audit lag threshold for a warning.
	WarnLagSeconds int `mapstructure:"warn_lag_seconds" default:"7200"`
	// CriticalLagSeconds is the audit lag threshold for a critical finding.
	CriticalLagSeconds int `mapstructure:"critical_lag_seconds" default:"21600"`
	// RetryMaxAttempts bounds retries of transient failures.
	RetryMaxAttempts int `mapstructure:"retry_max_attempts" default:"4"`
	// RetryInitialBackoffMS is the first retry backoff.
	RetryInitialBackoffMS int `mapstructure:"retry_initial_backoff_ms" default:"100"`
	// RetryMaxBackoffMS caps the retry backoff.
	RetryMaxBackoffMS int `mapstructure:"retry_max_backoff_ms" default:"5000"`
}

// TableSpec materializes the configured table registration.
func (c Config) TableSpec() (TableSpec, error) {
	strategy, err := ParseStrategy(c.Strategy)
	if err != nil {
		return TableSpec{}, err
	}

	spec := TableSpec{
		TableID:         c.TableID,
		Strategy:        strategy,
		SourceSchema:    c.SourceSchema,
		SourceTable:     c.SourceTable,
		Columns:         splitColumns(c.Columns),
		KeyColumns:      splitColumns(c.KeyColumns),
		WatermarkColumn: c.WatermarkColumn,
		SecondaryColumn: c.SecondaryColumn,
		CreatedAtColumn: c.CreatedAtColumn,
		OperationColumn: c.OperationColumn,
		SoftDelete:      c.SoftDelete,
		BatchSize:       c.BatchSize,
	}
	if spec.TableID == "" && spec.SourceTable != "" {
		spec.TableID = strings.ToUpper(spec.SourceTable) + "_CDC"
	}
	if err := spec.Validate(); err != nil {
		return TableSpec{}, err
	}
	return spec, nil
}

// PollInterval returns the pass interval for the periodic runner.
func (c Config) PollInterval() time.Duration {
	return time.Duration(c.PollIntervalSeconds) * time.Second
}

// WarnLag returns the warning drift threshold.
func (c Config) WarnLag() time.Duration {
	return time.Duration(c.WarnLagSeconds) * time.Second
}

// CriticalLag returns the critical drift threshold.
func (c Config) CriticalLag() time.Duration {
	return time.Duration(c.CriticalLagSeconds) * time.Second
}

func splitColumns(raw string) []string {
	if strings.TrimSpace(raw) == "" {
		return nil
	}
	parts := strings.Split(raw, ",")
	cols := make([]string, 0, len(parts))
	for _, p := range parts {
		if trimmed := strings.TrimSpace(p); trimmed != "" {
			cols = append(cols, trimmed)
		}
	}
	return cols
}
