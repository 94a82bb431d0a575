package main

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/davicafu/bookflow/internal/config"
	"github.com/davicafu/bookflow/internal/shared/infra/supervisor"
	"github.com/davicafu/bookflow/internal/shared/infra/utils"
)

func newRootCmd(log *zap.Logger) *cobra.Command {
	var configPath string

	root := &cobra.Command{
		Use:           "bookflow",
		Short:         "Order fulfillment across ordering, basket and finance",
		SilenceUsage:  true,
		SilenceErrors: true,
		PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
			if configPath != "" {
				return os.Setenv("BOOKFLOW_CONFIG", configPath)
			}
			return nil
		},
	}
	root.PersistentFlags().StringVar(&configPath, "config", "", "YAML file with saga policy and price list")

	root.AddCommand(
		serviceCmd(log, "serve", "Run ordering, basket and finance in one process", wireOrdering, wireBasket, wireFinance),
		serviceCmd(log, "order", "Run the ordering service", wireOrdering),
		serviceCmd(log, "basket", "Run the basket service", wireBasket),
		serviceCmd(log, "finance", "Run the finance service (fulfillment saga)", wireFinance),
		projectionCmd(log),
	)
	return root
}

// wireFunc registra en sup y router las piezas de un servicio.
type wireFunc func(ctx context.Context, p *platform, sup *supervisor.Supervisor, router *gin.Engine) error

func serviceCmd(log *zap.Logger, use, short string, wires ...wireFunc) *cobra.Command {
	var port string
	cmd := &cobra.Command{
		Use:   use,
		Short: short,
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := config.LoadConfig()
			if err != nil {
				return err
			}
			if port != "" {
				cfg.HTTPPort = port
			}
			if cfg.Transport == config.TransportMemory && len(wires) == 1 {
				log.Warn("⚠️ Bus en memoria con un solo servicio: los demás no recibirán sus mensajes",
					zap.String("command", use))
			}
			return runService(cmd.Context(), cfg, log, wires...)
		},
	}
	cmd.Flags().StringVar(&port, "port", "", "HTTP port (overrides HTTP_PORT)")
	return cmd
}

func runService(parent context.Context, cfg *config.Config, log *zap.Logger, wires ...wireFunc) error {
	if parent == nil {
		parent = context.Background()
	}
	ctx, stop := signal.NotifyContext(parent, os.Interrupt, syscall.SIGTERM)
	defer stop()

	p, err := openPlatform(ctx, cfg, log)
	if err != nil {
		return err
	}
	defer p.Close()
	if err := p.openBus(ctx); err != nil {
		return err
	}

	sup := supervisor.New(utils.ExponentialBackoff(500*time.Millisecond, 30*time.Second), log)
	router := gin.Default()
	router.GET("/health", func(c *gin.Context) {
		c.JSON(http.StatusOK, gin.H{"status": "ok"})
	})

	for _, wire := range wires {
		if err := wire(ctx, p, sup, router); err != nil {
			return err
		}
	}
	sup.Add("outbox.relayer", p.relayer().Run)
	sup.Add("http", serveHTTP(":"+cfg.HTTPPort, router, log))

	if err := sup.Start(ctx); err != nil {
		return err
	}
	log.Info("🚀 Server running", zap.String("url", "http://localhost:"+cfg.HTTPPort))

	<-ctx.Done()
	log.Info("🛑 Apagando servicios...")
	if err := sup.Stop(cfg.ShutdownTimeout); err != nil {
		return fmt.Errorf("shutdown: %w", err)
	}
	return nil
}

// serveHTTP es la tarea supervisada del servidor HTTP.
func serveHTTP(addr string, h http.Handler, log *zap.Logger) supervisor.RunFunc {
	return func(ctx context.Context) error {
		srv := &http.Server{Addr: addr, Handler: h, ReadHeaderTimeout: 5 * time.Second}
		errCh := make(chan error, 1)
		go func() { errCh <- srv.ListenAndServe() }()

		select {
		case err := <-errCh:
			if errors.Is(err, http.ErrServerClosed) {
				return nil
			}
			return err
		case <-ctx.Done():
			shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
			defer cancel()
			if err := srv.Shutdown(shutdownCtx); err != nil {
				log.Warn("HTTP shutdown failed", zap.Error(err))
			}
			return nil
		}
	}
}
