package cli

import (
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"

	"duckframe/internal/flightsql"
)

func newServeCmd(a *app) *cobra.Command {
	var (
		addr  string
		grace time.Duration
	)
	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Serve read-only queries over Arrow Flight SQL",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			if !cmd.Flags().Changed("addr") {
				addr = a.cfg.FlightSQLAddr
			}
			ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
			defer stop()

			dc, err := a.open(ctx)
			if err != nil {
				return err
			}
			defer dc.Close() //nolint:errcheck

			srv := flightsql.NewServer(addr, a.logger, dc)
			srv.SetVersion(version)
			srv.SetRateLimit(flightsql.RateLimitConfig{
				RequestsPerSecond: a.cfg.RateLimitRPS,
				Burst:             a.cfg.RateLimitBurst,
			})
			return srv.Run(ctx, grace)
		},
	}
	cmd.Flags().StringVar(&addr, "addr", "", "Listen address (defaults to FLIGHT_SQL_ADDR or :32010)")
	cmd.Flags().DurationVar(&grace, "grace", 10*time.Second, "Time allowed for in-flight calls on shutdown")
	return cmd
}
