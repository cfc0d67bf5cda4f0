package cli

import (
	"context"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/mudforge/driver/internal/app"
	"github.com/mudforge/driver/internal/config"
	"github.com/mudforge/driver/internal/httpapi"
)

func init() {
	rootCmd.AddCommand(serveCmd)
}

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Boot the world and accept connections",
	RunE:  runServe,
}

func runServe(cmd *cobra.Command, args []string) error {
	cfg, err := config.Load(configPath)
	if err != nil {
		return fmt.Errorf("load config: %w", err)
	}

	a, err := app.New(cfg)
	if err != nil {
		return fmt.Errorf("build app: %w", err)
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if err := a.Boot(ctx); err != nil {
		return fmt.Errorf("boot: %w", err)
	}

	addr := fmt.Sprintf("%s:%d", cfg.Network.Host, cfg.Network.Port)
	srv := &http.Server{
		Addr:    addr,
		Handler: httpapi.NewRouter(a),
	}

	serveErr := make(chan error, 1)
	go func() {
		a.Log.Info("driverd listening", zap.String("addr", addr))
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			serveErr <- err
		}
	}()

	select {
	case <-ctx.Done():
	case err := <-serveErr:
		a.Log.Error("http server failed", zap.Error(err))
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), cfg.Persistence.ShutdownDeadline+5*time.Second)
	defer cancel()
	_ = srv.Shutdown(shutdownCtx)

	if err := a.Shutdown(shutdownCtx); err != nil {
		a.Log.Error("shutdown encountered errors", zap.Error(err))
		return err
	}
	return nil
}
