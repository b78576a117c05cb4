package main

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"example.com/lumen/pkg/api"
	"example.com/lumen/pkg/config"
	"example.com/lumen/pkg/explorer"
	"example.com/lumen/pkg/journal"
	"example.com/lumen/pkg/tokens"
	"github.com/spf13/cobra"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"
)

const shutdownTimeout = 10 * time.Second

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Run the ledger behind the HTTP API and explorer",
	Args:  cobra.NoArgs,
	RunE:  runServe,
}

type nopCloser struct{}

func (nopCloser) Close() error { return nil }

// buildNode wires the journal, ledger, API and explorer described by cfg.
// The returned closer releases the journal.
func buildNode(cfg *config.Config, logger *zap.Logger) (*tokens.Ledger, http.Handler, io.Closer, error) {
	holder, supply, err := cfg.Token.Genesis()
	if err != nil {
		return nil, nil, nil, err
	}

	opts := []tokens.Option{
		tokens.WithMetadata(cfg.Token.Metadata()),
		tokens.WithLogger(logger.Named("ledger")),
	}
	if supply != nil {
		opts = append(opts, tokens.WithInitialSupply(holder, supply))
	}

	var (
		closer  io.Closer = nopCloser{}
		history api.History
		view    explorer.History
	)
	if cfg.Journal.Enabled {
		j, err := journal.Open(cfg.Journal.Path)
		if err != nil {
			return nil, nil, nil, err
		}
		opts = append(opts, tokens.WithEventSink(j))
		closer, history, view = j, j, j
	}

	ledger := tokens.New(opts...)

	mux := http.NewServeMux()
	api.NewAPI(ledger, api.Options{
		APIKey:        cfg.API.APIKey,
		RatePerSecond: cfg.API.RatePerSecond,
		Burst:         cfg.API.Burst,
		Logger:        logger.Named("api"),
		History:       history,
	}).Register(mux)
	explorer.NewExplorer(ledger, view, logger.Named("explorer")).Register(mux)

	logger.Info("ledger ready",
		zap.String("token", cfg.Token.Symbol),
		zap.String("total_supply", ledger.TotalSupply().Dec()),
		zap.Bool("journal", cfg.Journal.Enabled),
	)
	return ledger, mux, closer, nil
}

func runServe(cmd *cobra.Command, args []string) error {
	cfg, err := config.Load(configPath)
	if err != nil {
		return err
	}
	next, err := newLogger(cfg.Logging.Level, cfg.Logging.Development)
	if err != nil {
		return err
	}
	replaceLogger(next)

	_, handler, closer, err := buildNode(cfg, logger)
	if err != nil {
		return err
	}
	defer func() {
		if err := closer.Close(); err != nil {
			logger.Error("failed to close journal", zap.Error(err))
		}
	}()

	srv := &http.Server{
		Addr:              cfg.API.Addr,
		Handler:           handler,
		ReadHeaderTimeout: 5 * time.Second,
	}
	if cfg.API.TLS.Enabled() {
		if srv.TLSConfig, err = config.LoadTLSConfig(cfg.API.TLS.CertFile, cfg.API.TLS.KeyFile); err != nil {
			return err
		}
	}

	ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		logger.Info("API listening", zap.String("addr", srv.Addr), zap.Bool("tls", srv.TLSConfig != nil))
		var err error
		if srv.TLSConfig != nil {
			err = srv.ListenAndServeTLS("", "")
		} else {
			err = srv.ListenAndServe()
		}
		if errors.Is(err, http.ErrServerClosed) {
			return nil
		}
		return fmt.Errorf("api server: %w", err)
	})
	g.Go(func() error {
		<-gctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
		defer cancel()
		logger.Info("shutting down")
		return srv.Shutdown(shutdownCtx)
	})

	return g.Wait()
}
