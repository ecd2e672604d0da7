package cli

import (
	"fmt"
	"strings"

	"github.com/spf13/cobra"
)

var (
	compareTopic string
	compareJSON  bool
)

var compareCmd = &cobra.Command{
	Use:   "compare --topic TOPIC URL...",
	Short: "Compare what each source says about a topic",
	Long: `Ask one question per URL about the topic and print the summaries side by
side. A failure for one source is shown in its row and does not stop the rest.

Examples:
  newsrag compare --topic "inflation" https://a.example/story https://b.example/story`,
	Args: cobra.MinimumNArgs(1),
	RunE: runCompare,
}

func init() {
	rootCmd.AddCommand(compareCmd)
	compareCmd.Flags().StringVarP(&compareTopic, "topic", "t", "", "topic to compare (required)")
	compareCmd.Flags().BoolVar(&compareJSON, "json", false, "output as JSON")
	compareCmd.MarkFlagRequired("topic")
}

func runCompare(cmd *cobra.Command, args []string) error {
	p, err := newPipeline(GetConfig(), GetLogger(), nil)
	if err != nil {
		return err
	}

	rows, qerr := p.CompareAcrossSources(cmd.Context(), args, compareTopic)
	if qerr != nil {
		return qerr
	}

	out := cmd.OutOrStdout()
	if compareJSON {
		return writeJSON(out, rows)
	}

	failed := 0
	for _, row := range rows {
		fmt.Fprintf(out, "%s\n%s\n", row.URL, strings.Repeat("-", len(row.URL)))
		if row.Error != nil {
			failed++
			fmt.Fprintf(out, "error (%s): %s\n\n", row.Error.Kind, row.Error.Message)
			continue
		}
		fmt.Fprintf(out, "%s\n", row.Summary)
		printSources(out, row.Sources)
		fmt.Fprintln(out)
	}
	if failed == len(rows) {
		return fmt.Errorf("all %d comparisons failed", failed)
	}
	return nil
}
