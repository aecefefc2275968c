package cmd

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/spf13/cobra"

	"github.com/joescharf/qagate/internal/batch"
	"github.com/joescharf/qagate/internal/models"
	"github.com/joescharf/qagate/internal/output"
)

var (
	batchVerdicts []string
	batchSince    string
	batchNeedsQA  bool
	batchIDs      []string
	batchLimit    int
	batchActor    string
	batchRun      bool
	batchJSON     bool
)

var batchCmd = &cobra.Command{
	Use:   "batch",
	Short: "Create and track QA batches",
}

var batchCreateCmd = &cobra.Command{
	Use:   "create",
	Short: "Queue QA for the subjects matching a filter",
	Long: `Queue QA for the subjects matching a filter.

Subjects are taken newest first, up to --limit (capped by batch.max_limit).
The estimated cost is checked against batch.max_cost_usd and the daily
budget before anything is queued. With --run the batch is processed in this
process before the command returns.`,
	Example: `  qagate batch create --verdict REJECT --verdict FLAG --limit 20
  qagate batch create --needs-qa --run
  qagate batch create --case-id c-101 --case-id c-102`,
	RunE: func(cmd *cobra.Command, args []string) error {
		return batchCreateRun()
	},
}

var batchStatusCmd = &cobra.Command{
	Use:   "status <batch-id>",
	Short: "Show batch progress and item results",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		return batchStatusRun(args[0])
	},
}

var batchCancelCmd = &cobra.Command{
	Use:   "cancel <batch-id>",
	Short: "Skip a batch's pending items",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		return batchCancelRun(args[0])
	},
}

var batchListCmd = &cobra.Command{
	Use:     "list",
	Aliases: []string{"ls"},
	Short:   "List recent batches",
	RunE: func(cmd *cobra.Command, args []string) error {
		return batchListRun()
	},
}

func init() {
	batchCreateCmd.Flags().StringSliceVar(&batchVerdicts, "verdict", nil, "Only subjects whose current verdict is one of these")
	batchCreateCmd.Flags().StringVar(&batchSince, "since", "", "Only subjects updated since this date (YYYY-MM-DD or RFC 3339)")
	batchCreateCmd.Flags().BoolVar(&batchNeedsQA, "needs-qa", false, "Only subjects never checked or changed since their last check")
	batchCreateCmd.Flags().StringSliceVar(&batchIDs, "case-id", nil, "Only these content IDs")
	batchCreateCmd.Flags().IntVar(&batchLimit, "limit", 0, "Maximum subjects (default batch.default_limit)")
	batchCreateCmd.Flags().StringVar(&batchActor, "actor", "", "Initiator recorded on the batch (default \"system\")")
	batchCreateCmd.Flags().BoolVar(&batchRun, "run", false, "Process the queue before returning")
	batchStatusCmd.Flags().BoolVar(&batchJSON, "json", false, "Print the report as JSON")
	batchListCmd.Flags().IntVar(&batchLimit, "limit", 20, "Maximum batches")

	batchCmd.AddCommand(batchCreateCmd)
	batchCmd.AddCommand(batchStatusCmd)
	batchCmd.AddCommand(batchCancelCmd)
	batchCmd.AddCommand(batchListCmd)
	rootCmd.AddCommand(batchCmd)
}

// parseSince accepts a calendar date or an RFC 3339 timestamp.
func parseSince(s string) (*time.Time, error) {
	if s == "" {
		return nil, nil
	}
	for _, layout := range []string{time.RFC3339, "2006-01-02"} {
		if t, err := time.Parse(layout, s); err == nil {
			t = t.UTC()
			return &t, nil
		}
	}
	return nil, fmt.Errorf("invalid --since %q (want YYYY-MM-DD or RFC 3339)", s)
}

func parseVerdicts(raw []string) ([]models.Verdict, error) {
	out := make([]models.Verdict, 0, len(raw))
	for _, r := range raw {
		v, err := models.ParseVerdict(strings.ToUpper(strings.TrimSpace(r)))
		if err != nil {
			return nil, err
		}
		out = append(out, v)
	}
	return out, nil
}

func batchCreateRun() error {
	verdicts, err := parseVerdicts(batchVerdicts)
	if err != nil {
		return err
	}
	since, err := parseSince(batchSince)
	if err != nil {
		return err
	}
	filter := models.BatchFilter{
		Verdicts:   verdicts,
		Since:      since,
		NeedsQA:    batchNeedsQA,
		ContentIDs: batchIDs,
		Limit:      batchLimit,
	}

	if dryRun {
		ui.DryRunMsg("Would create batch with filter %+v", filter)
		return nil
	}

	svc, err := batchService()
	if err != nil {
		return err
	}
	ctx := commandContext()
	b, err := svc.Create(ctx, filter, batchActor)
	if err != nil {
		return err
	}
	ui.Success("Created batch %s with %d items", output.Cyan(b.ID), b.TotalItems)

	if !batchRun {
		ui.Info("Run 'qagate worker --once' or 'qagate batch status %s' to follow it", b.ID)
		return nil
	}
	if err := drainQueue(ctx); err != nil {
		return err
	}
	return printBatchReport(ctx, svc, b.ID)
}

// drainQueue processes pending items in this process until none are left.
func drainQueue(ctx context.Context) error {
	w, err := newWorker()
	if err != nil {
		return err
	}
	n, err := w.Drain(ctx)
	if err != nil {
		return err
	}
	ui.VerboseLog("Processed %d items", n)
	return nil
}

func batchStatusRun(id string) error {
	svc, err := batchService()
	if err != nil {
		return err
	}
	return printBatchReport(commandContext(), svc, id)
}

func printBatchReport(ctx context.Context, svc *batch.Service, id string) error {
	rep, err := svc.Status(ctx, id)
	if err != nil {
		return fmt.Errorf("batch %s: %w", id, err)
	}
	if batchJSON {
		return ui.JSON(rep)
	}

	b := rep.Batch
	fmt.Fprintf(ui.Out, "Batch %s  %s  %d%%\n", output.Cyan(b.ID), output.StatusColor(string(b.Status)), rep.Stats.ProgressPercent)
	fmt.Fprintf(ui.Out, "  Initiated by %s at %s\n", b.InitiatedBy, b.CreatedAt.Local().Format(time.DateTime))
	fmt.Fprintf(ui.Out, "  Cost $%.4f\n", rep.Stats.TotalCostUSD)
	for _, st := range []models.ItemStatus{models.ItemStatusPending, models.ItemStatusProcessing, models.ItemStatusCompleted, models.ItemStatusError, models.ItemStatusSkipped} {
		if n := rep.Stats.ByStatus[st]; n > 0 {
			fmt.Fprintf(ui.Out, "  %-12s %d\n", output.StatusColor(string(st)), n)
		}
	}
	fmt.Fprintln(ui.Out)

	table := ui.Table([]string{"Job", "Content", "Status", "Verdict", "Score", "Cost", "Note"})
	for _, it := range rep.Items {
		note := it.SkipReason
		if it.ErrorMessage != "" {
			note = output.Truncate(it.ErrorMessage, 40)
		}
		_ = table.Append([]string{
			it.ID,
			it.ContentID,
			output.StatusColor(string(it.Status)),
			output.VerdictColor(it.QAVerdict),
			output.ScoreColor(it.SeverityScore),
			fmt.Sprintf("$%.4f", it.CostUSD),
			note,
		})
	}
	return table.Render()
}

func batchCancelRun(id string) error {
	if dryRun {
		ui.DryRunMsg("Would cancel batch %s", id)
		return nil
	}
	svc, err := batchService()
	if err != nil {
		return err
	}
	b, skipped, err := svc.Cancel(commandContext(), id)
	if err != nil {
		return fmt.Errorf("cancel batch %s: %w", id, err)
	}
	ui.Success("Batch %s %s; %d pending items skipped", b.ID, output.StatusColor(string(b.Status)), skipped)
	return nil
}

func batchListRun() error {
	svc, err := batchService()
	if err != nil {
		return err
	}
	batches, err := svc.List(commandContext(), batchLimit)
	if err != nil {
		return err
	}
	if len(batches) == 0 {
		ui.Info("No batches yet")
		return nil
	}
	table := ui.Table([]string{"ID", "Status", "Items", "By", "Created"})
	for _, b := range batches {
		_ = table.Append([]string{
			b.ID,
			output.StatusColor(string(b.Status)),
			fmt.Sprintf("%d", b.TotalItems),
			b.InitiatedBy,
			b.CreatedAt.Local().Format(time.DateTime),
		})
	}
	return table.Render()
}
