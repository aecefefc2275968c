package cmd

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/joescharf/qagate/internal/models"
	"github.com/joescharf/qagate/internal/output"
)

var (
	runActor string
	runWait  bool
)

var runCmd = &cobra.Command{
	Use:   "run <content-id>",
	Short: "Queue QA for one subject",
	Long: `Queue QA for one subject as a one-item batch and print its job ID.

With --wait the queue is processed in this process and the result printed.`,
	Args: cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		return runSingleRun(args[0])
	},
}

var jobCmd = &cobra.Command{
	Use:   "job <job-id>",
	Short: "Show one QA job",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		return jobShowRun(args[0])
	},
}

func init() {
	runCmd.Flags().StringVar(&runActor, "actor", "", "Initiator recorded on the batch (default \"system\")")
	runCmd.Flags().BoolVar(&runWait, "wait", false, "Process the queue and print the result")
	rootCmd.AddCommand(runCmd)
	rootCmd.AddCommand(jobCmd)
}

func runSingleRun(contentID string) error {
	if dryRun {
		ui.DryRunMsg("Would queue QA for %s", contentID)
		return nil
	}
	svc, err := batchService()
	if err != nil {
		return err
	}
	ctx := commandContext()
	b, item, err := svc.RunSingle(ctx, contentID, runActor)
	if err != nil {
		return err
	}
	ui.Success("Queued job %s (batch %s)", output.Cyan(item.ID), b.ID)
	if !runWait {
		return nil
	}
	if err := drainQueue(ctx); err != nil {
		return err
	}
	return jobShowRun(item.ID)
}

func jobShowRun(id string) error {
	svc, err := batchService()
	if err != nil {
		return err
	}
	it, err := svc.Job(commandContext(), id)
	if err != nil {
		return fmt.Errorf("job %s: %w", id, err)
	}
	fmt.Fprintf(ui.Out, "Job %s  %s  content %s\n", output.Cyan(it.ID), output.StatusColor(string(it.Status)), it.ContentID)
	if it.SkipReason != "" {
		fmt.Fprintf(ui.Out, "  Skipped: %s\n", it.SkipReason)
	}
	if it.ErrorMessage != "" {
		ui.Error("%s", it.ErrorMessage)
	}
	if it.Status != models.ItemStatusCompleted {
		return nil
	}
	layerB := "-"
	if it.LayerBVerdict != nil {
		layerB = output.VerdictColor(*it.LayerBVerdict)
	}
	fmt.Fprintf(ui.Out, "  Verdict: %s  (validators %s, judge %s)  Score: %s\n",
		output.VerdictColor(it.QAVerdict), output.VerdictColor(it.LayerAVerdict), layerB, output.ScoreColor(it.SeverityScore))
	fmt.Fprintf(ui.Out, "  Attempts: %d  Cost: $%.4f  Latency: %dms\n\n", it.Attempts, it.CostUSD, it.LatencyMS)
	return ui.Issues(it.QAIssues)
}
