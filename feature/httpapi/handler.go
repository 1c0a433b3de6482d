package httpapi

import (
	"errors"

	"cdc-reconciler/core/logger"
	"cdc-reconciler/core/reconcile"
	"cdc-reconciler/core/utils"

	"github.com/gofiber/fiber/v2"
	"go.uber.org/zap"
)

// Handler handles HTTP requests for the operational API.
type Handler struct {
	service *Service
}

// NewHandler creates a new HTTP handler.
func NewHandler(service *Service) *Handler {
	return &Handler{service: service}
}

// RegisterRoutes registers the operational routes.
func (h *Handler) RegisterRoutes(app fiber.Router) {
	app.Get("/watermarks", h.HandleListWatermarks)
	app.Get("/watermarks/:table", h.HandleGetWatermark)
	app.Get("/audit/:table", h.HandleAudit)
	app.Get("/deadletters/:table", h.HandleListDeadLetters)
	app.Post("/reconcile/:table", h.HandleReconcile)
}

// HandleListWatermarks returns every committed watermark state.
func (h *Handler) HandleListWatermarks(c *fiber.Ctx) error {
	l := logger.WithRayID(h.service.logger, c)

	states, err := h.service.ListWatermarks(c.Context())
	if err != nil {
		l.Error("Watermark listing failed", zap.Error(err))
		return c.Status(fiber.StatusInternalServerError).JSON(fiber.Map{
			"error": err.Error(),
		})
	}
	return c.JSON(states)
}

// HandleGetWatermark returns one table's watermark state.
func (h *Handler) HandleGetWatermark(c *fiber.Ctx) error {
	tableID := c.Params("table")
	l := logger.WithRayID(h.service.logger, c)

	state, err := h.service.GetWatermark(c.Context(), tableID)
	if err != nil {
		return h.fail(c, l, "Watermark lookup failed", err)
	}
	if state == nil {
		return c.Status(fiber.StatusNotFound).JSON(fiber.Map{
			"error": "table has never been reconciled",
		})
	}
	return c.JSON(state)
}

// HandleAudit runs a read-only drift audit for a table.
func (h *Handler) HandleAudit(c *fiber.Ctx) error {
	tableID := c.Params("table")
	l := logger.WithRayID(h.service.logger, c)

	drift, err := h.service.Audit(c.Context(), tableID)
	if err != nil {
		return h.fail(c, l, "Audit failed", err)
	}
	return c.JSON(fiber.Map{
		"table_id":    drift.TableID,
		"source_rows": drift.SourceRows,
		"target_rows": drift.TargetRows,
		"row_delta":   drift.RowDelta,
		"lag_seconds": int64(drift.Lag.Seconds()),
		"level":       drift.Level.String(),
		"checked_at":  drift.CheckedAt,
	})
}

// HandleListDeadLetters returns a table's recent dead-lettered records.
func (h *Handler) HandleListDeadLetters(c *fiber.Ctx) error {
	tableID := c.Params("table")
	limit := c.QueryInt("limit", 100)
	l := logger.WithRayID(h.service.logger, c)

	entries, err := h.service.ListDeadLetters(c.Context(), tableID, limit)
	if err != nil {
		return h.fail(c, l, "Dead letter listing failed", err)
	}
	return c.JSON(entries)
}

// HandleReconcile triggers one reconciliation pass for a table.
// Query parameters: force_full=1 ignores the committed watermark,
// dry_run=1 plans without writing.
func (h *Handler) HandleReconcile(c *fiber.Ctx) error {
	tableID := c.Params("table")
	l := logger.WithRayID(h.service.logger, c)

	opts := reconcile.RunOptions{
		ForceFull: utils.ToBool(c.Query("force_full")),
		DryRun:    utils.ToBool(c.Query("dry_run")),
	}

	report, err := h.service.Reconcile(c.Context(), tableID, opts)
	if err != nil {
		l.Error("Reconciliation pass failed",
			zap.String("table", tableID), zap.Error(err))
		status := fiber.StatusInternalServerError
		if isUnknownTable(err) {
			status = fiber.StatusNotFound
		}
		body := fiber.Map{"error": err.Error()}
		if report != nil {
			body["report"] = report
		}
		return c.Status(status).JSON(body)
	}
	return c.JSON(report)
}

// fail maps service errors to HTTP responses with a log entry.
func (h *Handler) fail(c *fiber.Ctx, l *zap.Logger, msg string, err error) error {
	l.Error(msg, zap.Error(err))
	status := fiber.StatusInternalServerError
	if isUnknownTable(err) {
		status = fiber.StatusNotFound
	}
	return c.Status(status).JSON(fiber.Map{
		"error": err.Error(),
	})
}

func isUnknownTable(err error) bool {
	return errors.Is(err, ErrUnknownTable)
}
