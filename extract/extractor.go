package extract

import (
	"context"
	"fmt"
	"strings"
	"time"

	"cdc-reconciler/core/reconcile"
	"cdc-reconciler/core/utils"

	"github.com/google/uuid"
	"go.uber.org/zap"
	"gorm.io/gorm"
)

// Column aliases injected into extraction queries. They are stripped from
// payloads before records reach the engine.
const (
	commitSeqAlias    = "commit_seq"
	commitSeqSecAlias = "commit_seq_sec"
	opAlias           = "op"
)

// SQLExtractor produces change batches by querying the source relation with
// watermark-bounded SELECTs. Inserts are distinguished from updates by
// comparing the created-at column against the watermark column; sources with
// an explicit operation column (CDC audit tables) pass it through instead,
// which is the only way query-based extraction can observe deletes.
type SQLExtractor struct {
	db     *gorm.DB
	logger *zap.Logger
}

// NewSQLExtractor creates an extractor over a source connection.
func NewSQLExtractor(db *gorm.DB, logger *zap.Logger) *SQLExtractor {
	return &SQLExtractor{db: db, logger: logger}
}

// Head returns the newest commit sequence and the row count of the source.
func (e *SQLExtractor) Head(ctx context.Context, spec reconcile.TableSpec) (reconcile.Cursor, int64, error) {
	var (
		count int64
		head  any
	)

	if spec.WatermarkColumn == "" {
		query := fmt.Sprintf("SELECT COUNT(*) FROM %s", spec.FullTableName())
		if err := e.db.WithContext(ctx).Raw(query).Row().Scan(&count); err != nil {
			return reconcile.Cursor{}, 0, fmt.Errorf("probe source %s: %w", spec.TableID, err)
		}
		return reconcile.Cursor{}, count, nil
	}

	query := fmt.Sprintf("SELECT COUNT(*), MAX(%s) FROM %s", spec.WatermarkColumn, spec.FullTableName())
	if err := e.db.WithContext(ctx).Raw(query).Row().Scan(&count, &head); err != nil {
		return reconcile.Cursor{}, 0, fmt.Errorf("probe source %s: %w", spec.TableID, err)
	}
	return cursorFromValue(spec, head, 0), count, nil
}

// Extract runs the extraction query for a window and converts the rows into
// a change batch.
func (e *SQLExtractor) Extract(ctx context.Context, spec reconcile.TableSpec, window reconcile.Window) (*reconcile.ChangeBatch, error) {
	query, args, err := BuildQuery(spec, window)
	if err != nil {
		return nil, err
	}

	var rows []map[string]any
	if err := e.db.WithContext(ctx).Raw(query, args...).Scan(&rows).Error; err != nil {
		return nil, fmt.Errorf("extract %s: %w", spec.TableID, err)
	}

	batch := &reconcile.ChangeBatch{
		BatchID: uuid.NewString(),
		TableID: spec.TableID,
		Window:  window,
		Status:  reconcile.BatchPending,
		Records: make([]reconcile.ChangeRecord, 0, len(rows)),
	}

	for i, row := range rows {
		rec, err := recordFromRow(spec, row, i)
		if err != nil {
			return nil, fmt.Errorf("extract %s row %d: %w", spec.TableID, i, err)
		}
		batch.Records = append(batch.Records, rec)
	}

	e.logger.Debug("extracted batch",
		zap.String("table", spec.TableID),
		zap.String("batch_id", batch.BatchID),
		zap.Int("records", len(batch.Records)))

	return batch, nil
}

// BuildQuery builds the extraction SELECT and its arguments for a window.
// An epoch lower bound produces a full baseline scan where every row is an
// insert; otherwise the query is bounded below by the cursor and, for
// time-windowed strategies, above by the window's upper edge.
func BuildQuery(spec reconcile.TableSpec, window reconcile.Window) (string, []any, error) {
	if len(spec.Columns) == 0 {
		return "", nil, fmt.Errorf("table %s: no source columns configured", spec.TableID)
	}

	cols := strings.Join(spec.Columns, ", ")
	wm := spec.WatermarkColumn
	table := spec.FullTableName()
	fullLoad := window.Low.IsZero()

	// Snapshot sources without any usable ordering column get a constant
	// commit sequence; change detection then falls entirely to the merge
	// applier's payload comparison.
	if wm == "" {
		query := fmt.Sprintf("SELECT %s, 0 AS %s, %s FROM %s ORDER BY %s",
			cols, commitSeqAlias, opExpression(spec, true), table, spec.KeyColumns[0])
		return query, nil, nil
	}

	selects := fmt.Sprintf("%s, %s AS %s", cols, wm, commitSeqAlias)
	order := wm
	if spec.Strategy == reconcile.StrategyComposite {
		selects += fmt.Sprintf(", %s AS %s", spec.SecondaryColumn, commitSeqSecAlias)
		order = wm + ", " + spec.SecondaryColumn
	}
	selects += ", " + opExpression(spec, fullLoad)

	var (
		where []string
		args  []any
	)
	if !fullLoad {
		low := cursorArg(spec, window.Low)
		if spec.Strategy == reconcile.StrategyComposite {
			where = append(where, fmt.Sprintf("(%s > ? OR (%s = ? AND %s > ?))", wm, wm, spec.SecondaryColumn))
			args = append(args, low, low, window.Low.Secondary)
		} else {
			where = append(where, fmt.Sprintf("%s > ?", wm))
			args = append(args, low)
		}
	}
	if window.Bounded() {
		where = append(where, fmt.Sprintf("%s < ?", wm))
		args = append(args, cursorArg(spec, window.High))
	}

	query := fmt.Sprintf("SELECT %s FROM %s", selects, table)
	if len(where) > 0 {
		query += " WHERE " + strings.Join(where, " AND ")
	}
	query += " ORDER BY " + order

	// Time-windowed extraction must drain the whole window because the
	// advance commits the window's upper bound; only open-ended strategies
	// can page with a limit and resume from the max applied sequence.
	if !window.Bounded() && spec.BatchSize > 0 {
		query += fmt.Sprintf(" LIMIT %d", spec.BatchSize)
	}

	return query, args, nil
}

// opExpression derives the operation column for the SELECT.
func opExpression(spec reconcile.TableSpec, fullLoad bool) string {
	if spec.OperationColumn != "" {
		return fmt.Sprintf("%s AS %s", spec.OperationColumn, opAlias)
	}
	if fullLoad {
		return fmt.Sprintf("'I' AS %s", opAlias)
	}
	if spec.CreatedAtColumn != "" {
		return fmt.Sprintf("CASE WHEN %s = %s THEN 'I' ELSE 'U' END AS %s",
			spec.CreatedAtColumn, spec.WatermarkColumn, opAlias)
	}
	return fmt.Sprintf("'U' AS %s", opAlias)
}

// recordFromRow converts one scanned row into a change record.
func recordFromRow(spec reconcile.TableSpec, row map[string]any, index int) (reconcile.ChangeRecord, error) {
	opCode := utils.ToString(row[opAlias])
	op, err := reconcile.ParseOperation(opCode)
	if err != nil {
		return reconcile.ChangeRecord{}, err
	}

	keyParts := make([]string, 0, len(spec.KeyColumns))
	for _, col := range spec.KeyColumns {
		val, ok := lookupColumn(row, col)
		if !ok {
			return reconcile.ChangeRecord{}, fmt.Errorf("key column %q missing from extracted row", col)
		}
		keyParts = append(keyParts, utils.ToString(val))
	}

	var secondary int64
	if sec, ok := row[commitSeqSecAlias]; ok {
		secondary = utils.ToInt64(sec)
	}
	seq := cursorFromValue(spec, row[commitSeqAlias], secondary)

	var payload map[string]any
	if op != reconcile.OpDelete {
		payload = make(map[string]any, len(row))
		for col, val := range row {
			switch col {
			case commitSeqAlias, commitSeqSecAlias, opAlias:
				continue
			}
			payload[col] = val
		}
	}

	return reconcile.ChangeRecord{
		Key:           reconcile.MakeKey(keyParts...),
		Op:            op,
		CommitSeq:     seq,
		Payload:       payload,
		BatchLocalSeq: index,
	}, nil
}

// lookupColumn finds a column case-insensitively; drivers disagree about
// identifier casing.
func lookupColumn(row map[string]any, col string) (any, bool) {
	if val, ok := row[col]; ok {
		return val, true
	}
	lower := strings.ToLower(col)
	for name, val := range row {
		if strings.ToLower(name) == lower {
			return val, true
		}
	}
	return nil, false
}

// cursorArg converts a cursor into a query argument in the source column's
// native type.
func cursorArg(spec reconcile.TableSpec, c reconcile.Cursor) any {
	if spec.Strategy == reconcile.StrategyTimestamp {
		return c.Time()
	}
	return c.Primary
}

// cursorFromValue maps a scanned watermark value into cursor space.
func cursorFromValue(spec reconcile.TableSpec, val any, secondary int64) reconcile.Cursor {
	if val == nil {
		return reconcile.Cursor{}
	}
	if spec.Strategy == reconcile.StrategyTimestamp || spec.Strategy == reconcile.StrategyFullSnapshot {
		if t := toTime(val); !t.IsZero() {
			return reconcile.TimeCursor(t)
		}
	}
	return reconcile.Cursor{Primary: utils.ToInt64(val), Secondary: secondary}
}

// toTime coerces driver-dependent timestamp representations.
func toTime(val any) time.Time {
	switch v := val.(type) {
	case time.Time:
		return v
	case *time.Time:
		if v != nil {
			return *v
		}
	case string, []byte:
		s := utils.ToString(v)
		for _, layout := range []string{time.RFC3339Nano, time.RFC3339, "2006-01-02 15:04:05.999999", "2006-01-02 15:04:05"} {
			if t, err := time.Parse(layout, s); err == nil {
				return t
			}
		}
	}
	return time.Time{}
}
