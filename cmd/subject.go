package cmd

import (
	"bufio"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"os"
	"strings"
	"time"

	"github.com/spf13/cobra"

	"github.com/joescharf/qagate/internal/models"
	"github.com/joescharf/qagate/internal/output"
	"github.com/joescharf/qagate/internal/store"
)

var (
	subjectVerdicts []string
	subjectNeedsQA  bool
	subjectLimit    int
	subjectJSON     bool
)

var subjectCmd = &cobra.Command{
	Use:     "subject",
	Aliases: []string{"subjects"},
	Short:   "Import and inspect summaries under QA",
}

var subjectImportCmd = &cobra.Command{
	Use:   "import <file>",
	Short: "Import subjects from a JSON or JSON Lines file",
	Long: `Import subjects from a file holding a JSON array, a single JSON object, or
one object per line. Each object needs content_id and summary_text; existing
subjects are updated in place and keep their QA results.

Use "-" to read from stdin.`,
	Args: cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		return subjectImportRun(args[0])
	},
}

var subjectShowCmd = &cobra.Command{
	Use:   "show <content-id>",
	Short: "Show a subject and its latest QA result",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		return subjectShowRun(args[0])
	},
}

var subjectListCmd = &cobra.Command{
	Use:     "list",
	Aliases: []string{"ls"},
	Short:   "List subjects, newest first",
	RunE: func(cmd *cobra.Command, args []string) error {
		return subjectListRun()
	},
}

func init() {
	subjectShowCmd.Flags().BoolVar(&subjectJSON, "json", false, "Print the subject as JSON")
	subjectListCmd.Flags().StringSliceVar(&subjectVerdicts, "verdict", nil, "Only these verdicts")
	subjectListCmd.Flags().BoolVar(&subjectNeedsQA, "needs-qa", false, "Only subjects that need a QA run")
	subjectListCmd.Flags().IntVar(&subjectLimit, "limit", 50, "Maximum subjects")

	subjectCmd.AddCommand(subjectImportCmd)
	subjectCmd.AddCommand(subjectShowCmd)
	subjectCmd.AddCommand(subjectListCmd)
	rootCmd.AddCommand(subjectCmd)
}

// decodeSubjects reads a JSON array or a stream of JSON objects.
func decodeSubjects(r io.Reader) ([]*models.Subject, error) {
	br := bufio.NewReader(r)
	first, err := peekNonSpace(br)
	if err != nil {
		return nil, err
	}

	dec := json.NewDecoder(br)
	if first == '[' {
		var out []*models.Subject
		if err := dec.Decode(&out); err != nil {
			return nil, fmt.Errorf("decode subjects: %w", err)
		}
		return out, nil
	}

	var out []*models.Subject
	for n := 1; ; n++ {
		var s models.Subject
		err := dec.Decode(&s)
		if errors.Is(err, io.EOF) {
			return out, nil
		}
		if err != nil {
			return nil, fmt.Errorf("decode subject %d: %w", n, err)
		}
		out = append(out, &s)
	}
}

func peekNonSpace(br *bufio.Reader) (byte, error) {
	for {
		b, err := br.ReadByte()
		if errors.Is(err, io.EOF) {
			return 0, fmt.Errorf("no subjects in input")
		}
		if err != nil {
			return 0, err
		}
		if !strings.ContainsRune(" \t\r\n", rune(b)) {
			return b, br.UnreadByte()
		}
	}
}

func readSubjectsFile(path string) ([]*models.Subject, error) {
	if path == "-" {
		return decodeSubjects(os.Stdin)
	}
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("read file: %w", err)
	}
	defer f.Close()
	return decodeSubjects(f)
}

func subjectImportRun(path string) error {
	subjects, err := readSubjectsFile(path)
	if err != nil {
		return err
	}
	for i, s := range subjects {
		if s.ContentID == "" {
			return fmt.Errorf("subject %d: content_id is required", i+1)
		}
	}

	if dryRun {
		table := ui.Table([]string{"Content", "Case", "Impact", "Label"})
		for _, s := range subjects {
			_ = table.Append([]string{s.ContentID, output.Truncate(s.CaseName, 40), fmt.Sprintf("%d", s.ImpactLevel), s.Label})
		}
		_ = table.Render()
		ui.DryRunMsg("Would import %d subjects", len(subjects))
		return nil
	}

	st, err := getStore()
	if err != nil {
		return err
	}
	ctx := commandContext()
	imported := 0
	for _, s := range subjects {
		if err := st.UpsertSubject(ctx, s); err != nil {
			ui.Error("Skipping %s: %v", s.ContentID, err)
			continue
		}
		ui.VerboseLog("Imported %s", s.ContentID)
		imported++
	}
	ui.Success("Imported %d of %d subjects", imported, len(subjects))
	return nil
}

func subjectShowRun(id string) error {
	st, err := getStore()
	if err != nil {
		return err
	}
	s, err := st.GetSubject(commandContext(), id)
	if err != nil {
		return fmt.Errorf("subject %s: %w", id, err)
	}
	if subjectJSON {
		return ui.JSON(s)
	}

	fmt.Fprintf(ui.Out, "%s  %s\n", output.Cyan(s.ContentID), s.CaseName)
	fmt.Fprintf(ui.Out, "  Label: %s  Impact: %d\n", s.Label, s.ImpactLevel)
	fmt.Fprintf(ui.Out, "  Summary: %s\n\n", s.SummaryText)

	qa := s.QA
	if qa.RanAt == nil {
		ui.Info("Not checked yet")
		return nil
	}
	layerB := "-"
	if qa.LayerBVerdict != nil {
		layerB = output.VerdictColor(*qa.LayerBVerdict)
	}
	fmt.Fprintf(ui.Out, "  Verdict: %s (judge %s)  Publish: %s  Score: %s\n",
		output.VerdictColor(qa.Verdict), layerB, qa.PublishState, output.ScoreColor(qa.SeverityScore))
	fmt.Fprintf(ui.Out, "  Checked %s with %s %s\n\n", qa.RanAt.Local().Format(time.DateTime), orDash(qa.Model), qa.PromptVersion)
	return ui.Issues(qa.Issues)
}

func subjectListRun() error {
	verdicts, err := parseVerdicts(subjectVerdicts)
	if err != nil {
		return err
	}
	st, err := getStore()
	if err != nil {
		return err
	}
	subjects, err := st.ListSubjects(commandContext(), store.SubjectFilter{
		Verdicts: verdicts,
		NeedsQA:  subjectNeedsQA,
		Limit:    subjectLimit,
	})
	if err != nil {
		return err
	}
	if len(subjects) == 0 {
		ui.Info("No subjects found")
		return nil
	}
	table := ui.Table([]string{"Content", "Case", "Verdict", "Score", "Publish", "Updated"})
	for _, s := range subjects {
		_ = table.Append([]string{
			s.ContentID,
			output.Truncate(s.CaseName, 36),
			output.VerdictColor(s.QA.Verdict),
			output.ScoreColor(s.QA.SeverityScore),
			orDash(string(s.QA.PublishState)),
			s.UpdatedAt.Local().Format(time.DateTime),
		})
	}
	return table.Render()
}

func orDash(s string) string {
	if s == "" {
		return "-"
	}
	return s
}
