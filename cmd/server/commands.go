package main

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"

	"github.com/warp/office-ledger/api"
	"github.com/warp/office-ledger/ledger"
)

// errChainBroken makes verify exit non-zero.
var errChainBroken = errors.New("balance chain verification failed")

func newServeCmd(f *flags) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Start the HTTP API",
		RunE: func(cmd *cobra.Command, args []string) error {
			a, err := newApp(cmd.Context(), f)
			if err != nil {
				return err
			}
			defer a.Close()
			return serve(a)
		},
	}
	cmd.Flags().StringVar(&f.port, "port", "", "HTTP server port (overrides PORT)")
	cmd.Flags().BoolVar(&f.demo, "demo", false, "mount demo scenarios and reset")
	return cmd
}

func serve(a *app) error {
	handler := api.NewHandler(a.ledger, a.payroll, a.log)
	router := api.NewRouter(handler, api.RouterOptions{
		CORSOrigins: a.cfg.CORSOrigins,
		Demo:        a.cfg.Demo,
	})

	scheduler := api.NewIntegrityScheduler(a.ledger, a.log)
	scheduler.CheckInterval = a.cfg.VerifyInterval
	scheduler.Enabled = a.cfg.VerifyInterval > 0
	scheduler.Start()
	defer scheduler.Stop()

	server := &http.Server{
		Addr:         ":" + a.cfg.Port,
		Handler:      router,
		ReadTimeout:  15 * time.Second,
		WriteTimeout: 15 * time.Second,
		IdleTimeout:  60 * time.Second,
	}

	errc := make(chan error, 1)
	go func() {
		a.log.Info().Str("addr", server.Addr).Bool("demo", a.cfg.Demo).Msg("server starting")
		if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errc <- err
		}
		close(errc)
	}()

	// Wait for interrupt signal
	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	select {
	case err := <-errc:
		if err == nil {
			return nil
		}
		return fmt.Errorf("server failed: %w", err)
	case <-quit:
	}

	a.log.Info().Msg("shutting down server")
	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()
	if err := server.Shutdown(ctx); err != nil {
		return fmt.Errorf("server forced to shutdown: %w", err)
	}
	a.log.Info().Msg("server stopped")
	return nil
}

func newVerifyCmd(f *flags) *cobra.Command {
	return &cobra.Command{
		Use:   "verify",
		Short: "Replay every ledger and compare with the stored balances",
		RunE: func(cmd *cobra.Command, args []string) error {
			a, err := newApp(cmd.Context(), f)
			if err != nil {
				return err
			}
			defer a.Close()

			reports, err := a.ledger.VerifyAll(cmd.Context())
			if err != nil {
				return err
			}
			out := cmd.OutOrStdout()
			broken := 0
			for _, r := range reports {
				status := "ok"
				if !r.OK() {
					status = "MISMATCH"
					broken++
				}
				fmt.Fprintf(out, "%-8s %s/%s entries=%d replayed=%s stored=%s\n",
					status, r.Office, r.Ledger, r.Entries,
					ledger.FormatAmount(r.Replayed), ledger.FormatAmount(r.Stored))
				for _, m := range r.Mismatches {
					fmt.Fprintf(out, "         seq=%d tx=%s expected=%s recorded=%s: %s\n",
						m.Sequence, m.TransactionID,
						ledger.FormatAmount(m.Expected), ledger.FormatAmount(m.Recorded), m.Reason)
				}
			}
			if broken > 0 {
				return fmt.Errorf("%w: %d of %d ledgers", errChainBroken, broken, len(reports))
			}
			return nil
		},
	}
}

func newSummaryCmd(f *flags) *cobra.Command {
	var officeID, ledgerID string
	cmd := &cobra.Command{
		Use:   "summary",
		Short: "Print the summary of an office as JSON",
		RunE: func(cmd *cobra.Command, args []string) error {
			a, err := newApp(cmd.Context(), f)
			if err != nil {
				return err
			}
			defer a.Close()

			sum, err := a.ledger.GetSummary(cmd.Context(), ledger.OfficeID(officeID), ledger.LedgerID(ledgerID))
			if err != nil {
				return err
			}
			enc := json.NewEncoder(cmd.OutOrStdout())
			enc.SetIndent("", "  ")
			return enc.Encode(sum)
		},
	}
	cmd.Flags().StringVar(&officeID, "office", "", "office id")
	cmd.Flags().StringVar(&ledgerID, "ledger", "", "ledger id (default: every ledger)")
	_ = cmd.MarkFlagRequired("office")
	return cmd
}
