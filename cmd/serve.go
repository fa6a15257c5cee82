package cmd

import (
	"context"
	"errors"
	"fmt"
	"net"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/rs/zerolog/log"
	"github.com/spf13/cobra"
	"golang.org/x/sync/errgroup"

	"clipdrop/internal/server"
	"clipdrop/internal/tunnel"
)

const shutdownTimeout = 10 * time.Second

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Run the HTTP download service",
	Args:  cobra.NoArgs,
	RunE:  serveRun,
}

func serveRun(cmd *cobra.Command, args []string) error {
	ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	tun, err := tunnel.Open(ctx, cfg)
	if err != nil {
		return err
	}
	defer tun.Close()

	svc, st, err := newService(tun.URL())
	if err != nil {
		return err
	}

	srv := server.New(svc, st, tun.URL(), server.Options{
		Version:   Version,
		RateLimit: cfg.RateLimit,
		RateBurst: cfg.RateBurst,
	})

	ln, err := net.Listen("tcp", cfg.Listen)
	if err != nil {
		return fmt.Errorf("listening on %s: %w", cfg.Listen, err)
	}

	httpSrv := &http.Server{
		Handler:           srv.Handler(),
		ReadHeaderTimeout: 10 * time.Second,
	}

	g, gctx := errgroup.WithContext(ctx)
	g.Go(serveOn(httpSrv, ln, "local"))
	if tl := tun.Listener(); tl != nil {
		g.Go(serveOn(httpSrv, tl, "tunnel"))
	}
	g.Go(func() error {
		<-gctx.Done()
		log.Info().Msg("shutting down")
		shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
		defer cancel()
		return httpSrv.Shutdown(shutdownCtx)
	})

	log.Info().
		Str("listen", ln.Addr().String()).
		Str("public_url", tun.URL()).
		Str("download_dir", st.Root()).
		Msg("clipdrop ready")

	return g.Wait()
}

// serveOn runs srv on l until it is shut down.
func serveOn(srv *http.Server, l net.Listener, name string) func() error {
	return func() error {
		if err := srv.Serve(l); err != nil && !errors.Is(err, http.ErrServerClosed) {
			return fmt.Errorf("serving %s listener: %w", name, err)
		}
		return nil
	}
}
