package cmd

import (
	"fmt"
	"strings"

	"github.com/spf13/cobra"

	"github.com/joescharf/qagate/internal/models"
	"github.com/joescharf/qagate/internal/output"
	"github.com/joescharf/qagate/internal/pipeline"
)

var (
	lintText     string
	lintImpact   int
	lintLabel    string
	lintCaseType string
	lintMerits   string
	lintDissent  string
	lintHolding  string
	lintJudge    bool
	lintFix      bool
	lintJSON     bool
)

var lintCmd = &cobra.Command{
	Use:   "lint [file]",
	Short: "Check one summary without storing anything",
	Long: `Check one summary and print the verdict, issues and fix directives.

The subject comes from a JSON file (see 'qagate subject import') or from
flags. Only the deterministic validators run unless --judge is given. With
--fix a rejected summary is regenerated and re-checked; the stored subject is
never touched.`,
	Example: `  qagate lint subject.json --judge
  qagate lint --text "The Court dismissed the appeal." --label procedural --merits-reached=false`,
	Args: cobra.MaximumNArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		var path string
		if len(args) == 1 {
			path = args[0]
		}
		return lintRun(path)
	},
}

func init() {
	lintCmd.Flags().StringVar(&lintText, "text", "", "Summary text")
	lintCmd.Flags().IntVar(&lintImpact, "impact", 1, "Impact level")
	lintCmd.Flags().StringVar(&lintLabel, "label", "", "Label (e.g. procedural)")
	lintCmd.Flags().StringVar(&lintCaseType, "case-type", "", "Case type (e.g. procedural)")
	lintCmd.Flags().StringVar(&lintMerits, "merits-reached", "", "Whether the merits were reached: true, false or empty for unknown")
	lintCmd.Flags().StringVar(&lintDissent, "dissent", "", "Whether a dissent exists: true, false or empty for unknown")
	lintCmd.Flags().StringVar(&lintHolding, "holding", "", "Holding text for grounding")
	lintCmd.Flags().BoolVar(&lintJudge, "judge", false, "Also run the LLM judge")
	lintCmd.Flags().BoolVar(&lintFix, "fix", false, "Regenerate rejected summaries (implies --judge)")
	lintCmd.Flags().BoolVar(&lintJSON, "json", false, "Print the result as JSON")
	rootCmd.AddCommand(lintCmd)
}

func parseTriState(name, v string) (*bool, error) {
	switch strings.ToLower(strings.TrimSpace(v)) {
	case "":
		return nil, nil
	case "true", "yes":
		return models.BoolPtr(true), nil
	case "false", "no":
		return models.BoolPtr(false), nil
	default:
		return nil, fmt.Errorf("--%s must be true, false or empty, got %q", name, v)
	}
}

// lintSubject builds the subject from a file or from flags.
func lintSubject(path string) (*models.Subject, error) {
	if path != "" {
		subjects, err := readSubjectsFile(path)
		if err != nil {
			return nil, err
		}
		if len(subjects) != 1 {
			return nil, fmt.Errorf("lint takes one subject, file has %d", len(subjects))
		}
		s := subjects[0]
		if s.ContentID == "" {
			s.ContentID = "lint"
		}
		return s, nil
	}

	if strings.TrimSpace(lintText) == "" {
		return nil, fmt.Errorf("give a subject file or --text")
	}
	merits, err := parseTriState("merits-reached", lintMerits)
	if err != nil {
		return nil, err
	}
	dissent, err := parseTriState("dissent", lintDissent)
	if err != nil {
		return nil, err
	}
	return &models.Subject{
		ContentID:   "lint",
		SummaryText: lintText,
		ImpactLevel: lintImpact,
		Label:       lintLabel,
		Grounding:   models.Grounding{Holding: lintHolding},
		Facts:       models.Facts{MeritsReached: merits, DissentExists: dissent, CaseType: lintCaseType},
	}, nil
}

func lintRun(path string) error {
	s, err := lintSubject(path)
	if err != nil {
		return err
	}
	p, err := newPipeline(lintJudge || lintFix)
	if err != nil {
		return err
	}
	ctx := commandContext()

	if lintFix {
		run, err := p.Run(ctx, s)
		if err != nil {
			return err
		}
		if lintJSON {
			return ui.JSON(run)
		}
		if err := printPass(&run.Pass); err != nil {
			return err
		}
		if run.Fix != nil && run.Fix.Regenerated() {
			fmt.Fprintln(ui.Out)
			ui.Info("Regenerated %d time(s), stopped: %s", len(run.Fix.Attempts), run.Fix.StopReason)
			fmt.Fprintf(ui.Out, "\n%s\n", run.SummaryText)
		}
		return nil
	}

	pass, err := p.Check(ctx, s)
	if err != nil {
		return err
	}
	if lintJSON {
		return ui.JSON(pass)
	}
	return printPass(pass)
}

func printPass(pass *pipeline.Pass) error {
	f := pass.Fusion
	layerB := "-"
	if f.LayerB != nil {
		layerB = output.VerdictColor(*f.LayerB)
	}
	fmt.Fprintf(ui.Out, "Verdict: %s  (validators %s, judge %s)  Score: %s\n",
		output.VerdictColor(f.Verdict), output.VerdictColor(f.LayerA), layerB, output.ScoreColor(f.SeverityScore))
	if pass.Judge != nil && pass.Judge.Outcome != nil && pass.Judge.Outcome.Kind() != "ok" {
		ui.Warning("Judge outcome: %s", pass.Judge.Outcome.Kind())
	}
	fmt.Fprintln(ui.Out)
	if err := ui.Issues(f.Issues); err != nil {
		return err
	}
	if len(f.Directives) > 0 {
		fmt.Fprintln(ui.Out, "\nFix directives:")
		for i, d := range f.Directives {
			fmt.Fprintf(ui.Out, "  %d. %s\n", i+1, d)
		}
	}
	return nil
}
