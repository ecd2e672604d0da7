package cli

import (
	"fmt"
	"os"
	"strings"

	"github.com/spf13/cobra"
)

var (
	reportOutput string
	reportJSON   bool
)

var reportCmd = &cobra.Command{
	Use:   "report",
	Short: "Generate a market research report from the whole index",
	Long: `Ask the model for a report covering market trends, key players,
opportunities and challenges across every indexed article.

Examples:
  newsrag report
  newsrag report -o report.md`,
	Args: cobra.NoArgs,
	RunE: runReport,
}

func init() {
	rootCmd.AddCommand(reportCmd)
	reportCmd.Flags().StringVarP(&reportOutput, "output", "o", "", "write the report to this file instead of stdout")
	reportCmd.Flags().BoolVar(&reportJSON, "json", false, "output as JSON")
}

func runReport(cmd *cobra.Command, args []string) error {
	p, err := newPipeline(GetConfig(), GetLogger(), nil)
	if err != nil {
		return err
	}

	result := p.GenerateReport(cmd.Context())
	if result.Error != nil {
		return result.Error
	}

	out := cmd.OutOrStdout()
	if reportJSON {
		return writeJSON(out, result)
	}

	var b strings.Builder
	b.WriteString(result.ReportText)
	b.WriteString("\n")
	if len(result.Sources) > 0 {
		b.WriteString("\nSources:\n")
		for i, src := range result.Sources {
			fmt.Fprintf(&b, "  [%d] %s\n", i+1, src)
		}
	}

	if reportOutput == "" {
		fmt.Fprint(out, b.String())
		return nil
	}
	if err := os.WriteFile(reportOutput, []byte(b.String()), 0644); err != nil {
		return fmt.Errorf("failed to write report: %w", err)
	}
	fmt.Fprintf(out, "Report written to %s\n", reportOutput)
	return nil
}
