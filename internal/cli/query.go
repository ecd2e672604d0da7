package cli

import (
	"encoding/json"
	"fmt"
	"io"

	"github.com/spf13/cobra"
)

var (
	queryText string
	queryJSON bool
)

var queryCmd = &cobra.Command{
	Use:   "query",
	Short: "Answer a question from the indexed articles",
	Long: `Retrieve the chunks most similar to the question and ask the model for an
answer grounded in them, with the source URLs it used.

Examples:
  newsrag query -q "what did the central bank announce?"
  newsrag query -q "who are the key players?" --json`,
	RunE: runQuery,
}

func init() {
	rootCmd.AddCommand(queryCmd)
	queryCmd.Flags().StringVarP(&queryText, "query", "q", "", "question to ask (required)")
	queryCmd.Flags().BoolVar(&queryJSON, "json", false, "output as JSON")
	queryCmd.MarkFlagRequired("query")
}

func runQuery(cmd *cobra.Command, args []string) error {
	p, err := newPipeline(GetConfig(), GetLogger(), nil)
	if err != nil {
		return err
	}

	result := p.Query(cmd.Context(), queryText)
	out := cmd.OutOrStdout()

	if queryJSON {
		if err := writeJSON(out, result); err != nil {
			return err
		}
	} else if result.Error == nil {
		if result.Degraded {
			fmt.Fprintf(out, "(the model reply could not be parsed; showing it verbatim)\n\n")
		}
		fmt.Fprintln(out, result.Answer)
		printSources(out, result.Sources)
	}

	if result.Error != nil {
		return result.Error
	}
	return nil
}

func printSources(out io.Writer, sources []string) {
	if len(sources) == 0 {
		return
	}
	fmt.Fprintf(out, "\nSources:\n")
	for i, src := range sources {
		fmt.Fprintf(out, "  [%d] %s\n", i+1, src)
	}
}

func writeJSON(out io.Writer, v any) error {
	data, err := json.MarshalIndent(v, "", "  ")
	if err != nil {
		return fmt.Errorf("failed to marshal JSON: %w", err)
	}
	fmt.Fprintln(out, string(data))
	return nil
}
