package cli

import (
	"fmt"
	"time"

	"github.com/spf13/cobra"
)

var infoJSON bool

var infoCmd = &cobra.Command{
	Use:   "info",
	Short: "Describe the current index snapshot",
	Args:  cobra.NoArgs,
	RunE:  runInfo,
}

func init() {
	rootCmd.AddCommand(infoCmd)
	infoCmd.Flags().BoolVar(&infoJSON, "json", false, "output as JSON")
}

func runInfo(cmd *cobra.Command, args []string) error {
	p, err := newPipeline(GetConfig(), GetLogger(), nil)
	if err != nil {
		return err
	}
	info, err := p.Info()
	if err != nil {
		return err
	}

	out := cmd.OutOrStdout()
	if infoJSON {
		return writeJSON(out, info)
	}
	fmt.Fprintf(out, "Build ID:   %s\n", info.BuildID)
	fmt.Fprintf(out, "Created:    %s\n", info.CreatedAt.Local().Format(time.RFC1123))
	fmt.Fprintf(out, "Model:      %s (%d dimensions)\n", info.Model, info.Dimension)
	fmt.Fprintf(out, "Chunk size: %d\n", info.ChunkSize)
	fmt.Fprintf(out, "Chunks:     %d\n", info.Chunks)
	fmt.Fprintf(out, "Sources:    %d\n", len(info.Sources))
	for _, src := range info.Sources {
		fmt.Fprintf(out, "  - %s\n", src)
	}
	return nil
}
