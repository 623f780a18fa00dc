package cmd

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"time"

	"github.com/projecteru2/core/log"
	"github.com/spf13/cobra"

	"github.com/coredpl/dpl/ledger"
	"github.com/coredpl/dpl/remote"
)

func serveCommand() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Expose this participant's ledger over HTTP (spec remote access surface)",
		RunE:  runServe,
	}
	cmd.Flags().String("addr", "", "bind address (default: config http_addr)")
	return cmd
}

func runServe(cmd *cobra.Command, _ []string) error {
	addr, _ := cmd.Flags().GetString("addr")
	if addr == "" {
		addr = conf.HTTPAddr
	}

	if removed, err := ledger.SweepOrphanedDirs(cmd.Context(), conf.BasePath); err != nil {
		log.WithFunc("cmd.serve").Warnf(cmd.Context(), "sweep orphaned directories: %v", err)
	} else if len(removed) > 0 {
		log.WithFunc("cmd.serve").Infof(cmd.Context(), "removed %d orphaned directories", len(removed))
	}

	l := newLedger()
	srv := remote.NewServer(l)
	httpSrv := &http.Server{
		Addr:              addr,
		Handler:           srv,
		ReadHeaderTimeout: 5 * time.Second, //nolint:mnd
	}

	logger := log.WithFunc("cmd.serve")
	ctx := cmd.Context()

	errCh := make(chan error, 1)
	go func() { errCh <- httpSrv.ListenAndServe() }()

	logger.Infof(ctx, "listening on %s", addr)
	fmt.Printf("dpl serve: listening on %s (participant %s)\n", addr, l.ParticipantID())

	select {
	case err := <-errCh:
		if err != nil && !errors.Is(err, http.ErrServerClosed) {
			return fmt.Errorf("serve: %w", err)
		}
		return nil
	case <-ctx.Done():
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second) //nolint:mnd
		defer cancel()
		return httpSrv.Shutdown(shutdownCtx)
	}
}
