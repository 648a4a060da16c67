package commands

import (
	"context"
	"errors"
	"net"
	"net/http"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/spf13/cobra"

	"github.com/agentworkforce/gtaskfs/internal/diagnostics"
	"github.com/agentworkforce/gtaskfs/internal/docfs"
	"github.com/agentworkforce/gtaskfs/internal/httpapi"
)

type serveOptions struct {
	addr            string
	rateLimitMax    int
	rateLimitWindow time.Duration
	maxBodyBytes    int64
	origins         []string
}

func newServeCmd(a *app) *cobra.Command {
	opts := serveOptions{}
	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Serve documents over HTTP with a websocket change feed",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			listener, err := net.Listen("tcp", serveAddr(a, opts))
			if err != nil {
				return err
			}
			ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
			defer stop()
			return runServe(ctx, a, opts, listener)
		},
	}
	flags := cmd.Flags()
	flags.StringVar(&opts.addr, "addr", "", "listen address (default listen_addr)")
	flags.IntVar(&opts.rateLimitMax, "rate-limit-max", 0, "requests per window per token subject, 0 to disable")
	flags.DurationVar(&opts.rateLimitWindow, "rate-limit-window", time.Minute, "rate limit window")
	flags.Int64Var(&opts.maxBodyBytes, "max-body-bytes", 0, "maximum document size accepted by PUT")
	flags.StringSliceVar(&opts.origins, "origin", nil, "allowed websocket origin patterns")
	return cmd
}

func serveAddr(a *app, opts serveOptions) string {
	if addr := strings.TrimSpace(opts.addr); addr != "" {
		return addr
	}
	return a.cfg.ListenAddr
}

// runServe serves on listener until ctx is done, then shuts down.
func runServe(ctx context.Context, a *app, opts serveOptions, listener net.Listener) error {
	if strings.TrimSpace(a.cfg.JWTSecret) == "" {
		_ = listener.Close()
		return a.printer.Error(
			"jwt_secret is not set",
			"The HTTP surface requires bearer tokens signed with a shared secret.",
			[]string{"set jwt_secret in gtaskfs.yml", "set GTASKFS_JWT_SECRET"},
		)
	}

	hub := httpapi.NewHub(0)
	provider := docfs.NewProvider(docfs.Options{
		Clients:     a.session.Current,
		Refresher:   hub,
		SchemaRef:   a.cfg.SchemaRef,
		Schema:      a.schema,
		Logger:      &a.logger,
		Diagnostics: a.diagnostics,
	})
	defer provider.Close()
	dispose := provider.OnDidChange(hub.HandleChanges)
	defer dispose()

	reader, _ := a.diagnostics.(diagnostics.Reader)
	server := httpapi.NewServer(provider, hub, httpapi.ServerConfig{
		JWTSecret:       a.cfg.JWTSecret,
		RateLimitMax:    opts.rateLimitMax,
		RateLimitWindow: opts.rateLimitWindow,
		MaxBodyBytes:    opts.maxBodyBytes,
		OriginPatterns:  opts.origins,
		Diagnostics:     reader,
		Logger:          &a.logger,
	})
	httpServer := &http.Server{
		Handler:           server,
		ReadHeaderTimeout: 10 * time.Second,
	}

	errCh := make(chan error, 1)
	go func() {
		errCh <- httpServer.Serve(listener)
	}()
	a.logger.Info().Str("addr", listener.Addr().String()).Msg("gtaskfs listening")

	select {
	case err := <-errCh:
		if errors.Is(err, http.ErrServerClosed) {
			return nil
		}
		return err
	case <-ctx.Done():
	}
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := httpServer.Shutdown(shutdownCtx); err != nil {
		return err
	}
	a.logger.Info().Msg("gtaskfs stopped")
	return nil
}
