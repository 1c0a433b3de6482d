package httpapi

import (
	"cdc-reconciler/core/reconcile"
	"cdc-reconciler/feature/deadletter"
	"cdc-reconciler/feature/watermarkstore"

	"github.com/gofiber/fiber/v2"
	"go.uber.org/zap"
)

// Feature implements the loader.Feature interface.
type Feature struct {
	service *Service
	handler *Handler
}

// NewFeature creates the operational API feature.
func NewFeature(
	engine *reconcile.Engine,
	auditor *reconcile.Auditor,
	watermarks *watermarkstore.Store,
	letters *deadletter.Sink,
	specs []reconcile.TableSpec,
	logger *zap.Logger,
) *Feature {
	svc := NewService(engine, auditor, watermarks, letters, specs, logger)
	h := NewHandler(svc)
	return &Feature{service: svc, handler: h}
}

// Name returns the name of the feature.
func (f *Feature) Name() string {
	return "httpapi"
}

// IsEnabled checks if the feature is enabled.
func (f *Feature) IsEnabled() bool {
	return true
}

// Load registers the feature's routes.
func (f *Feature) Load(app fiber.Router) error {
	f.handler.RegisterRoutes(app)
	return nil
}
