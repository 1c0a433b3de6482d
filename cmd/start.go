package cmd

import (
	"context"
	"log"
	"os"
	"os/signal"
	"syscall"
	"time"

	"cdc-reconciler/core/loader"
	"cdc-reconciler/core/logger"
	"cdc-reconciler/core/middleware/auth"
	"cdc-reconciler/core/middleware/rayid"
	"cdc-reconciler/core/reconcile"
	"cdc-reconciler/feature/httpapi"

	"github.com/gofiber/fiber/v2"
	"github.com/spf13/cobra"
	"go.uber.org/zap"
)

// startCmd represents the start command
var startCmd = &cobra.Command{
	Use:   "start",
	Short: "Start the reconciliation server",
	Long: `Starts the HTTP server, runs periodic reconciliation passes for the
registered table, and audits drift after every pass.`,
	Run: func(cmd *cobra.Command, args []string) {
		app, err := buildApplication()
		if err != nil {
			log.Fatalf("Failed to initialize application: %v", err)
		}
		logg := app.logger
		defer logg.Sync()

		// 1. Initialize Fiber App
		server := fiber.New(fiber.Config{
			DisableStartupMessage: true, // We will log our own startup message
		})

		// Middleware Registration
		// 1. RayID (Must be first to trace everything)
		server.Use(rayid.New())

		// 2. Logging Middleware (Custom to use Zap + RayID)
		server.Use(func(c *fiber.Ctx) error {
			l := logger.WithRayID(logg, c)
			l.Info("Request started",
				zap.String("method", c.Method()),
				zap.String("path", c.Path()),
				zap.String("ip", c.IP()),
			)
			err := c.Next()
			if err != nil {
				l.Error("Request error", zap.Error(err))
			}
			return err
		})

		// 3. Auth (Protect API)
		server.Use(auth.New(auth.Config{ApiKey: app.cfg.Server.ApiKey}))

		// 4. Feature Loader
		mgr := loader.NewManager()
		mgr.Register(httpapi.NewFeature(app.engine, app.auditor, app.watermarks, app.letters, app.specs, logg))
		if err := mgr.LoadAll(server); err != nil {
			logg.Fatal("Failed to load features", zap.Error(err))
		}

		// 5. Periodic reconciliation loop
		ctx, cancel := context.WithCancel(context.Background())
		go runPeriodic(ctx, app)

		// 6. Start Server
		go func() {
			logg.Info("Starting server", zap.String("port", app.cfg.Server.Port))
			if err := server.Listen(":" + app.cfg.Server.Port); err != nil {
				logg.Fatal("Server failed to start", zap.Error(err))
			}
		}()

		// 7. Graceful Shutdown
		c := make(chan os.Signal, 1)
		signal.Notify(c, os.Interrupt, syscall.SIGTERM)
		<-c
		logg.Info("Shutting down server...")
		cancel()
		_ = server.Shutdown()
	},
}

// runPeriodic runs a reconciliation pass and a drift audit for every
// registered table, then sleeps for the configured poll interval. A failed
// pass is logged and retried on the next tick; the watermark protocol makes
// the retry safe.
func runPeriodic(ctx context.Context, app *application) {
	interval := app.cfg.Engine.PollInterval()
	logg := app.logger

	for {
		if _, err := app.engine.RunAll(ctx, app.specs, reconcile.RunOptions{}); err != nil {
			logg.Error("Reconciliation pass failed", zap.Error(err))
		}
		for _, spec := range app.specs {
			if _, err := app.auditor.Audit(ctx, spec); err != nil {
				logg.Error("Drift audit failed",
					zap.String("table", spec.TableID), zap.Error(err))
			}
		}

		select {
		case <-ctx.Done():
			return
		case <-time.After(interval):
		}
	}
}

func init() {
	RootCmd.AddCommand(startCmd)
}
