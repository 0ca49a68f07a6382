package main

import (
	"fmt"
	"io"
	"sort"
	"strings"

	"github.com/spf13/cobra"

	apperrors "github.com/Corphon/PersonaKit/internal/errors"
	"github.com/Corphon/PersonaKit/internal/models"
	"github.com/Corphon/PersonaKit/internal/services"
)

// validateCmd asks one question to several personas
func newValidateCmd() *cobra.Command {
	var (
		question   string
		characters string
		mode       string
	)
	cmd := &cobra.Command{
		Use:   "validate",
		Short: "Ask several personas the same question and compare answers",
		Example: `  personakit validate --question "Would you pay for this?" --characters id1,id2,id3
  personakit validate --question "..." --characters id1,id2 --mode sequential`,
		RunE: func(cmd *cobra.Command, args []string) error {
			ids := splitList(characters)
			if strings.TrimSpace(question) == "" {
				return apperrors.NewValidationError("--question is required", nil)
			}
			if len(ids) == 0 {
				return apperrors.NewValidationError("--characters is required", nil)
			}

			a, err := openApp()
			if err != nil {
				return err
			}
			defer a.Close()

			session, err := a.Validator.CreateSession(question, ids)
			if err != nil {
				return err
			}

			var run *models.ValidationRun
			switch mode {
			case services.ModeConcurrent, "":
				run, err = a.Validator.RunConcurrent(cmd.Context(), session.ID, nil)
			case services.ModeSequential:
				run, err = a.Validator.RunSequential(cmd.Context(), session.ID, nil)
			default:
				return apperrors.NewValidationError(fmt.Sprintf("invalid mode %q (concurrent|sequential)", mode), nil)
			}
			if err != nil {
				return err
			}
			if jsonOutput {
				return printJSON(cmd.OutOrStdout(), run)
			}
			writeRun(cmd.OutOrStdout(), a.Characters.Store(), run)
			return nil
		},
	}
	cmd.Flags().StringVarP(&question, "question", "q", "", "question to ask")
	cmd.Flags().StringVar(&characters, "characters", "", "comma-separated character ids")
	cmd.Flags().StringVar(&mode, "mode", services.ModeConcurrent, "concurrent|sequential")
	return cmd
}

func writeRun(w io.Writer, store *services.CharacterStore, run *models.ValidationRun) {
	fmt.Fprintf(w, "Validation %s (%s, %dms)\n", run.SessionID, run.Mode, run.DurationMs)
	fmt.Fprintf(w, "Q: %s\n\n", run.Question)

	ids := make([]string, 0, len(run.Results))
	for id := range run.Results {
		ids = append(ids, id)
	}
	sort.Strings(ids)
	for _, id := range ids {
		name := id
		if c, err := store.Get(id); err == nil {
			name = fmt.Sprintf("%s (%s)", c.Name, c.Type)
		}
		r := run.Results[id]
		if r.Failed() {
			fmt.Fprintf(w, "## %s\n[failed: %s] %s\n\n", name, r.ErrorKind, r.Error)
			continue
		}
		fmt.Fprintf(w, "## %s\n%s\n\n", name, r.Response)
	}

	if s := run.Analysis; s != nil {
		fmt.Fprintf(w, "Consensus: %.0f%%\n", s.ConsensusLevel*100)
		writeList(w, "Key concerns", s.KeyConcerns)
		writeList(w, "Opportunities", s.Opportunities)
		writeList(w, "Recommendations", s.Recommendations)
	}
}

func writeList(w io.Writer, title string, items []string) {
	if len(items) == 0 {
		return
	}
	fmt.Fprintf(w, "%s:\n", title)
	for _, it := range items {
		fmt.Fprintf(w, "  - %s\n", it)
	}
}

// reportCmd prints the decision report of a finished validation
func newReportCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "report [validation-id]",
		Short: "Print the decision report for a validation",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			a, err := openApp()
			if err != nil {
				return err
			}
			defer a.Close()

			report, err := a.Integration.GenerateDecisionReport(args[0])
			if err != nil {
				return err
			}
			if jsonOutput {
				return printJSON(cmd.OutOrStdout(), report)
			}

			out := cmd.OutOrStdout()
			fmt.Fprintf(out, "Decision report: %s\n\n%s\n\n", report.Question, report.ExecutiveSummary)
			writeList(out, "Key findings", report.KeyFindings)
			writeList(out, "Recommendations", report.Recommendations)
			writeList(out, "Next steps", report.NextSteps)
			writeList(out, "Success factors", report.SuccessFactors)
			if report.RiskMatrix.Total() > 0 {
				fmt.Fprintf(out, "Risks: %d\n", report.RiskMatrix.Total())
				writeList(out, "  High probability / high impact", report.RiskMatrix.HighProbabilityHighImpact)
			}
			if len(report.ActionItems) > 0 {
				fmt.Fprintln(out, "Action items:")
				for _, item := range report.ActionItems {
					fmt.Fprintf(out, "  [%s] %s\n", item.Priority, item.Action)
				}
			}
			return nil
		},
	}
	return cmd
}
