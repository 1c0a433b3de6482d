package httpapi_test

import (
	"encoding/json"
	"io"
	"net/http/httptest"
	"testing"
	"time"

	"cdc-reconciler/core/reconcile"
	"cdc-reconciler/feature/deadletter"
	"cdc-reconciler/feature/httpapi"
	"cdc-reconciler/feature/watermarkstore"

	"github.com/DATA-DOG/go-sqlmock"
	"github.com/gofiber/fiber/v2"
	"github.com/stretchr/testify/assert"
	"go.uber.org/zap"
	"gorm.io/driver/mysql"
	"gorm.io/gorm"
)

func setupMockDB(t *testing.T) (*gorm.DB, sqlmock.Sqlmock) {
	db, mock, err := sqlmock.New()
	if err != nil {
		t.Fatalf("Failed to open mock sql db: %v", err)
	}

	dialector := mysql.New(mysql.Config{
		Conn:                      db,
		SkipInitializeWithVersion: true,
	})

	gormDB, err := gorm.Open(dialector, &gorm.Config{})
	if err != nil {
		t.Fatalf("Failed to open gorm db: %v", err)
	}

	return gormDB, mock
}

func setupApp(t *testing.T) (*fiber.App, sqlmock.Sqlmock) {
	db, mock := setupMockDB(t)

	spec := reconcile.TableSpec{
		TableID:         "ORDERS_CDC",
		Strategy:        reconcile.StrategyInteger,
		SourceTable:     "orders",
		KeyColumns:      []string{"order_id"},
		WatermarkColumn: "seq",
	}

	feature := httpapi.NewFeature(
		nil, // engine: not exercised by these routes
		nil, // auditor: not exercised by these routes
		watermarkstore.New(db),
		deadletter.NewSink(db, zap.NewNop()),
		[]reconcile.TableSpec{spec},
		zap.NewNop(),
	)

	app := fiber.New()
	assert.NoError(t, feature.Load(app))
	return app, mock
}

func TestHandleListWatermarks(t *testing.T) {
	app, mock := setupApp(t)

	rows := sqlmock.NewRows([]string{"table_id", "strategy", "cursor_primary", "cursor_secondary", "version", "rows_applied", "execution_id", "duration_ms", "updated_at"}).
		AddRow("ORDERS_CDC", "integer", 500, 0, 3, 42, "abc123", 1500, time.Now())
	mock.ExpectQuery("SELECT (.+) FROM `watermark_states`").WillReturnRows(rows)

	resp, err := app.Test(httptest.NewRequest("GET", "/watermarks", nil))
	assert.NoError(t, err)
	assert.Equal(t, fiber.StatusOK, resp.StatusCode)

	body, _ := io.ReadAll(resp.Body)
	var states []reconcile.WatermarkState
	assert.NoError(t, json.Unmarshal(body, &states))
	assert.Len(t, states, 1)
	assert.Equal(t, "ORDERS_CDC", states[0].TableID)
}

func TestHandleGetWatermark(t *testing.T) {
	t.Run("Unknown Table", func(t *testing.T) {
		app, _ := setupApp(t)

		resp, err := app.Test(httptest.NewRequest("GET", "/watermarks/NOPE", nil))
		assert.NoError(t, err)
		assert.Equal(t, fiber.StatusNotFound, resp.StatusCode)
	})

	t.Run("Never Reconciled", func(t *testing.T) {
		app, mock := setupApp(t)

		mock.ExpectQuery("SELECT (.+) FROM `watermark_states`").
			WillReturnRows(sqlmock.NewRows([]string{"table_id"}))

		resp, err := app.Test(httptest.NewRequest("GET", "/watermarks/ORDERS_CDC", nil))
		assert.NoError(t, err)
		assert.Equal(t, fiber.StatusNotFound, resp.StatusCode)
	})
}

func TestHandleListDeadLetters(t *testing.T) {
	app, mock := setupApp(t)

	rows := sqlmock.NewRows([]string{"id", "batch_id", "table_id", "row_key", "reason", "created_at"}).
		AddRow(1, "b1", "ORDERS_CDC", "7", "schema mismatch", time.Now())
	mock.ExpectQuery("SELECT (.+) FROM `dead_letters`").WillReturnRows(rows)

	resp, err := app.Test(httptest.NewRequest("GET", "/deadletters/ORDERS_CDC", nil))
	assert.NoError(t, err)
	assert.Equal(t, fiber.StatusOK, resp.StatusCode)

	body, _ := io.ReadAll(resp.Body)
	var entries []reconcile.DeadLetter
	assert.NoError(t, json.Unmarshal(body, &entries))
	assert.Len(t, entries, 1)
	assert.Equal(t, "b1", entries[0].BatchID)
}
