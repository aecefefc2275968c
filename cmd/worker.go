package cmd

import (
	"os/signal"

	"github.com/spf13/cobra"
	"github.com/spf13/viper"
)

var workerOnce bool

var workerCmd = &cobra.Command{
	Use:   "worker",
	Short: "Claim and process pending QA items",
	Long: `Claim pending batch items and run the QA gate on them.

Any number of workers can share one database; each item is claimed by
exactly one worker. Items whose inputs are unchanged since their last run
are skipped without model calls. With --once the worker drains the queue
and exits.`,
	RunE: func(cmd *cobra.Command, args []string) error {
		return workerRun()
	},
}

func init() {
	workerCmd.Flags().BoolVar(&workerOnce, "once", false, "Drain the queue and exit")
	workerCmd.Flags().String("id", "", "Worker identity recorded on claims (default: random)")
	workerCmd.Flags().Int("concurrency", 4, "Items processed in parallel")
	_ = viper.BindPFlag("worker.id", workerCmd.Flags().Lookup("id"))
	_ = viper.BindPFlag("worker.concurrency", workerCmd.Flags().Lookup("concurrency"))
	rootCmd.AddCommand(workerCmd)
}

func workerRun() error {
	w, err := newWorker()
	if err != nil {
		return err
	}

	ctx, stop := signal.NotifyContext(commandContext(), shutdownSignals()...)
	defer stop()

	if !workerOnce {
		ui.Info("Worker %s polling every %s (Ctrl-C to stop)", w.ID(), viper.GetDuration("worker.poll_interval"))
		return w.Run(ctx)
	}

	n, err := w.Drain(ctx)
	if err != nil {
		return err
	}
	ui.Success("Processed %d items", n)
	return nil
}
