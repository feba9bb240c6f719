package main

import (
	"context"
	"errors"
	"net"
	"net/http"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"

	"github.com/mx37/grapheneos-ai/internal/httpapi"
	"github.com/mx37/grapheneos-ai/internal/manager"
)

const shutdownTimeout = 5 * time.Second

func newServeCmd(opts *options) *cobra.Command {
	var preload bool
	cmd := &cobra.Command{
		Use:     "serve",
		Short:   "Run the HTTP API",
		Example: "  llamad serve --models-dir ~/models/llm --default-model qwen2.5-0.5b-instruct-q4_k_m.gguf",
		Args:    cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, log, mgr, err := opts.setup(cmd)
			if err != nil {
				return err
			}
			defer mgr.Close()

			ctx, stop := signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
			defer stop()

			rep := mgr.SanityCheck()
			ev := log.Info()
			if rep.Error != "" {
				ev = log.Warn().Str("error", rep.Error)
			}
			ev.Str("engine", rep.Engine).
				Bool("engine_available", rep.EngineAvailable).
				Int("models", rep.ModelsFound).
				Str("default_model", rep.DefaultModel).
				Bool("default_model_ok", rep.DefaultModelOK).
				Msg("sanity check")

			if preload && rep.DefaultModelOK {
				if err := mgr.Load(ctx, "", manager.LoadOptions{}); err != nil {
					log.Warn().Err(err).Str("model", cfg.DefaultModel).Msg("preload failed")
				}
			}

			httpapi.SetLogger(log)
			httpapi.SetRequestLogLevel(cfg.LogLevel)
			httpapi.SetMaxBodyBytes(cfg.MaxBodyBytes)
			httpapi.SetInferTimeoutSeconds(cfg.InferTimeoutSeconds)
			httpapi.SetCORSOptions(cfg.CORS.Enabled, cfg.CORS.Origins, cfg.CORS.Methods, cfg.CORS.Headers)
			httpapi.SetBaseContext(ctx)

			srv := &http.Server{
				Addr:              cfg.Addr,
				Handler:           httpapi.NewMux(mgr),
				ReadHeaderTimeout: 10 * time.Second,
				BaseContext:       func(net.Listener) context.Context { return ctx },
			}
			errCh := make(chan error, 1)
			go func() {
				log.Info().Str("addr", cfg.Addr).Str("models_dir", cfg.ModelsDir).Str("backend", cfg.Backend).Msg("llamad listening")
				errCh <- srv.ListenAndServe()
			}()

			select {
			case err := <-errCh:
				if !errors.Is(err, http.ErrServerClosed) {
					return err
				}
				return nil
			case <-ctx.Done():
			}
			log.Info().Msg("shutting down")
			sctx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
			defer cancel()
			if err := srv.Shutdown(sctx); err != nil {
				log.Warn().Err(err).Msg("graceful shutdown error")
			}
			return nil
		},
	}
	cmd.Flags().BoolVar(&preload, "preload", false, "Load the default model before accepting requests")
	return cmd
}
