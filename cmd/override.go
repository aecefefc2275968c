package cmd

import (
	"fmt"
	"strings"
	"time"

	"github.com/spf13/cobra"

	"github.com/joescharf/qagate/internal/models"
	"github.com/joescharf/qagate/internal/output"
	"github.com/joescharf/qagate/internal/override"
)

var (
	overrideFrom      string
	overrideTo        string
	overrideReason    string
	overrideDismissed []string
	overrideGold      bool
	overrideActor     string

	historyLimit int
	historyJSON  bool
)

var overrideCmd = &cobra.Command{
	Use:   "override <content-id>",
	Short: "Replace a subject's QA verdict",
	Long: `Replace a subject's QA verdict with a human decision.

--from must match the current verdict; if QA ran again since you looked, the
override is refused. Dismissed issue types are removed from the stored
issues, and an override to APPROVE clears the judge's issues. Every
override is recorded with a revision.`,
	Example: `  qagate override c-101 --from REJECT --to APPROVE --reason "Holding quoted verbatim; merits language is accurate."`,
	Args:    cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		return overrideRun(args[0])
	},
}

var historyCmd = &cobra.Command{
	Use:   "history <content-id>",
	Short: "Show a subject's QA and override audit trail",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		return historyRun(args[0])
	},
}

func init() {
	overrideCmd.Flags().StringVar(&overrideFrom, "from", "", "Verdict you are overriding (required)")
	overrideCmd.Flags().StringVar(&overrideTo, "to", "", "New verdict: APPROVE, FLAG or REJECT (required)")
	overrideCmd.Flags().StringVar(&overrideReason, "reason", "", fmt.Sprintf("Why (at least %d characters)", override.MinReasonLength))
	overrideCmd.Flags().StringSliceVar(&overrideDismissed, "dismiss", nil, "Issue types to dismiss")
	overrideCmd.Flags().BoolVar(&overrideGold, "gold", false, "Add this decision to the gold set")
	overrideCmd.Flags().StringVar(&overrideActor, "actor", "", "Who is overriding (default \"system\")")
	_ = overrideCmd.MarkFlagRequired("from")
	_ = overrideCmd.MarkFlagRequired("to")
	_ = overrideCmd.MarkFlagRequired("reason")

	historyCmd.Flags().IntVar(&historyLimit, "limit", override.DefaultHistoryLimit, "Maximum revisions")
	historyCmd.Flags().BoolVar(&historyJSON, "json", false, "Print the history as JSON")

	rootCmd.AddCommand(overrideCmd)
	rootCmd.AddCommand(historyCmd)
}

func overrideRun(contentID string) error {
	req := override.Request{
		ContentID:       contentID,
		OriginalVerdict: models.Verdict(strings.ToUpper(overrideFrom)),
		OverrideVerdict: models.Verdict(strings.ToUpper(overrideTo)),
		Reason:          overrideReason,
		DismissedIssues: overrideDismissed,
		AddToGoldSet:    overrideGold,
	}
	if err := req.Validate(); err != nil {
		return err
	}
	if dryRun {
		ui.DryRunMsg("Would override %s: %s -> %s", contentID, req.OriginalVerdict, req.OverrideVerdict)
		return nil
	}

	svc, err := overrideService()
	if err != nil {
		return err
	}
	res, err := svc.Apply(commandContext(), req, overrideActor)
	if err != nil {
		return err
	}
	ui.Success("%s: %s -> %s (publish: %s)", contentID,
		output.VerdictColor(req.OriginalVerdict), output.VerdictColor(res.QA.Verdict), res.QA.PublishState)
	ui.VerboseLog("Override %s, revision %s", res.Override.ID, res.Revision.ID)
	return nil
}

func historyRun(contentID string) error {
	svc, err := overrideService()
	if err != nil {
		return err
	}
	h, err := svc.History(commandContext(), contentID, historyLimit)
	if err != nil {
		return fmt.Errorf("history %s: %w", contentID, err)
	}
	if historyJSON {
		return ui.JSON(h)
	}

	cur := h.CurrentState
	fmt.Fprintf(ui.Out, "%s  %s\n", output.Cyan(h.ContentID), h.CaseName)
	fmt.Fprintf(ui.Out, "  Current: %s  Publish: %s  Score: %s\n\n",
		output.VerdictColor(cur.Verdict), orDash(string(cur.PublishState)), output.ScoreColor(cur.SeverityScore))

	if len(h.Revisions) == 0 {
		ui.Info("No revisions")
		return nil
	}
	table := ui.Table([]string{"When", "Trigger", "Actor", "Change", "Fields"})
	for _, r := range h.Revisions {
		actor := string(r.ActorType)
		if r.ActorID != "" {
			actor += ":" + r.ActorID
		}
		_ = table.Append([]string{
			r.CreatedAt.Local().Format(time.DateTime),
			string(r.TriggerSource),
			actor,
			output.Truncate(r.ChangeSummary, 50),
			strings.Join(r.ChangedFields, ","),
		})
	}
	if err := table.Render(); err != nil {
		return err
	}

	if len(h.Overrides) > 0 {
		fmt.Fprintln(ui.Out, "\nOverrides:")
		for _, o := range h.Overrides {
			fmt.Fprintf(ui.Out, "  %s  %s -> %s by %s: %s\n", o.CreatedAt.Local().Format(time.DateTime),
				o.OriginalVerdict, o.OverrideVerdict, o.Actor, o.OverrideReason)
		}
	}
	return nil
}
