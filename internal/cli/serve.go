package cli

import (
	"context"
	"errors"
	"net/http"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"

	"github.com/dgallion1/docsplit/internal/api"
	"github.com/dgallion1/docsplit/internal/logging"
	"github.com/dgallion1/docsplit/internal/pipeline"
)

func newServeCmd(a *app) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Run the HTTP service",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			if a.cfg.LogFormat == "" {
				a.log = logging.New("json", a.cfg.LogLevel, cmd.ErrOrStderr())
			}
			log := a.log
			if err := a.cfg.RequireServer(); err != nil {
				return err
			}
			chunkCfg, err := a.cfg.ChunkerConfig()
			if err != nil {
				return err
			}

			ctx, stop := signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
			defer stop()

			client, ex, err := a.newExtractor(jsonLines(a.cfg.Output.Fallback))
			if err != nil {
				return err
			}
			defer client.Close()

			orch := pipeline.NewOrchestrator(a.cfg.Pipeline, ex, chunkCfg, log)
			orch.Start(ctx)

			httpServer := &http.Server{
				Addr:         ":" + a.cfg.Port,
				Handler:      api.NewServer(orch, ex, client, log, a.cfg, chunkCfg),
				ReadTimeout:  30 * time.Second,
				WriteTimeout: 10 * time.Minute, // /api/rules waits for the model, retries included
				IdleTimeout:  60 * time.Second,
			}

			// Graceful shutdown.
			done := make(chan struct{})
			go func() {
				defer close(done)
				<-ctx.Done()
				log.Info("shutting down...")

				shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 10*time.Second)
				defer shutdownCancel()
				httpServer.Shutdown(shutdownCtx)

				orch.Stop()
			}()

			log.Info("starting docsplit", "port", a.cfg.Port, "model", client.Model())
			err = httpServer.ListenAndServe()
			stop()
			<-done
			if err != nil && !errors.Is(err, http.ErrServerClosed) {
				log.Error("server error", "error", err)
				return err
			}
			return nil
		},
	}
	cmd.Flags().String("port", "8090", "listen port")
	bindFlag(cmd.Flags(), "port", "port")
	addLLMFlags(cmd)
	return cmd
}
