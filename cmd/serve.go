package cmd

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/robfig/cron/v3"
	"github.com/spf13/cobra"

	"github.com/derickschaefer/reserve/internal/agent"
	"github.com/derickschaefer/reserve/internal/httpapi"
	"github.com/derickschaefer/reserve/internal/snapshot"
)

var (
	serveAddr string
	serveCron string
)

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Start the HTTP API and (optionally) a recompute scheduler",
	Long: `serve starts internal/httpapi's route table — registry, series, snapshot,
router, events, and the LLM brief/ask surface — on --addr (default from
config.json's server_addr or RESERVE_SERVER_ADDR).

With --cron set to a 6-field cron expression (seconds first), a background
scheduler additionally recomputes and saves a snapshot for
config.json's default_horizon on that schedule, mirroring what
/events/recompute does on demand.`,
	Example: `  reserve serve
  reserve serve --addr :9090
  reserve serve --cron "0 */15 * * * *"`,
	RunE: func(cmd *cobra.Command, args []string) error {
		deps, err := buildDeps()
		if err != nil {
			return err
		}
		if err := deps.RequireStore(); err != nil {
			return err
		}
		defer deps.Close()

		specs, err := deps.Registry()
		if err != nil {
			return fmt.Errorf("loading registry: %w", err)
		}

		a := agent.New(deps.Store, deps.Provider, specs)
		srv := httpapi.New(httpapi.Config{Store: deps.Store, Agent: a, Specs: specs})

		addr := serveAddr
		if addr == "" {
			addr = deps.Config.ServerAddr
		}

		ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
		defer stop()

		var sched *cron.Cron
		if serveCron != "" {
			sched = cron.New(cron.WithSeconds())
			horizon := deps.Config.DefaultHorizon
			k := deps.Config.DefaultK
			_, err := sched.AddFunc(serveCron, func() {
				asOf := time.Now().UTC()
				_, err := snapshot.ComputeSnapshot(deps.Store, snapshot.Options{
					Horizon: horizon, K: k, Save: true, AsOf: &asOf, Specs: specs,
				})
				if err != nil {
					slog.Error("scheduled recompute failed", "horizon", horizon, "error", err)
					return
				}
				slog.Info("scheduled recompute saved", "horizon", horizon, "as_of", asOf)
			})
			if err != nil {
				return fmt.Errorf("invalid --cron schedule %q: %w", serveCron, err)
			}
			sched.Start()
			defer func() { <-sched.Stop().Done() }()
			slog.Info("recompute scheduler started", "cron", serveCron)
		}

		return srv.ListenAndServe(ctx, addr)
	},
}

func init() {
	rootCmd.AddCommand(serveCmd)
	serveCmd.Flags().StringVar(&serveAddr, "addr", "", "listen address (default from config.json server_addr)")
	serveCmd.Flags().StringVar(&serveCron, "cron", "", "optional 6-field cron schedule (with seconds) for periodic snapshot recompute")
}
