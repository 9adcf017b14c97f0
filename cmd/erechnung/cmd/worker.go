package cmd

import (
	"fmt"
	"os/signal"
	"syscall"

	"github.com/rs/zerolog/log"
	"github.com/spf13/cobra"
)

var (
	workerSchedule  string
	workerBatchSize int
	workerOnce      bool
)

var workerCmd = &cobra.Command{
	Use:   "worker",
	Short: "Send due delivery attempts on a schedule",
	Long: `Poll the delivery store for pending and retry-scheduled attempts whose
time has come and send them. Several workers may run against the same
database; each attempt is leased to one of them.

Examples:
  erechnung worker
  erechnung worker --schedule "@every 10s" --batch-size 100
  erechnung worker --once`,
	Args: cobra.NoArgs,
	RunE: runWorker,
}

func init() {
	rootCmd.AddCommand(workerCmd)

	workerCmd.Flags().StringVar(&workerSchedule, "schedule", "", "Cron spec (env: DELIVERY_POLL_SCHEDULE)")
	workerCmd.Flags().IntVar(&workerBatchSize, "batch-size", 0, "Attempts per poll (env: DELIVERY_BATCH_SIZE)")
	workerCmd.Flags().BoolVar(&workerOnce, "once", false, "Process one batch and exit")
}

func runWorker(cmd *cobra.Command, args []string) error {
	ctx, stop := signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	svc, err := onlineService(ctx)
	if err != nil {
		return err
	}
	defer svc.Close()

	batch := workerBatchSize
	if batch <= 0 {
		batch = cfg.DeliveryBatchSize
	}
	sched, err := svc.NewScheduler(firstNonEmpty(workerSchedule, cfg.DeliveryPollSchedule), batch)
	if err != nil {
		return err
	}

	if workerOnce {
		n, err := sched.RunOnce(ctx)
		if err != nil {
			return err
		}
		fmt.Printf("Processed %d attempt(s)\n", n)
		return nil
	}

	if err := sched.Start(); err != nil {
		return err
	}
	log.Info().Msg("delivery worker started")

	<-ctx.Done()
	log.Info().Msg("stopping delivery worker")
	<-sched.Stop().Done()
	return nil
}
