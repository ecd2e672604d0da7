package cli

import (
	"fmt"
	"io"
	"sync"
	"time"

	"github.com/schollz/progressbar/v3"
	"github.com/spf13/cobra"

	"newsrag/internal/domain"
)

var (
	buildJSON       bool
	buildNoProgress bool
)

var buildCmd = &cobra.Command{
	Use:   "build URL...",
	Short: "Fetch pages and build the vector index",
	Long: `Fetch every URL, split the extracted text into chunks, embed the chunks and
replace the index snapshot. URLs that cannot be fetched are reported and
skipped; any other failure leaves the previous snapshot in place.

Examples:
  newsrag build https://a.example/story https://b.example/story
  newsrag build --json https://a.example/story`,
	RunE: runBuild,
}

func init() {
	rootCmd.AddCommand(buildCmd)
	buildCmd.Flags().BoolVar(&buildJSON, "json", false, "output as JSON")
	buildCmd.Flags().BoolVar(&buildNoProgress, "no-progress", false, "hide the progress bar")
}

func runBuild(cmd *cobra.Command, args []string) error {
	out := cmd.OutOrStdout()

	var progress func(domain.Progress)
	if !buildNoProgress && !buildJSON {
		progress = newBuildProgress(cmd.ErrOrStderr())
	}

	p, err := newPipeline(GetConfig(), GetLogger(), progress)
	if err != nil {
		return err
	}

	start := time.Now()
	result := p.Build(cmd.Context(), args)

	if buildJSON {
		if err := writeJSON(out, result); err != nil {
			return err
		}
	} else {
		printBuildResult(out, result, time.Since(start))
	}

	if !result.Success {
		if result.Error != nil {
			return result.Error
		}
		return fmt.Errorf("build failed")
	}
	return nil
}

func printBuildResult(out io.Writer, result domain.BuildResult, took time.Duration) {
	if len(result.FetchErrors) > 0 {
		fmt.Fprintf(out, "\nSkipped URLs:\n")
		for _, fe := range result.FetchErrors {
			fmt.Fprintf(out, "  - %s: %s\n", fe.URL, fe.Reason)
		}
	}
	if !result.Success {
		return
	}

	fmt.Fprintf(out, "\nBuild complete:\n")
	fmt.Fprintf(out, "  Documents: %d\n", result.Documents)
	fmt.Fprintf(out, "  Chunks:    %d\n", result.Chunks)
	fmt.Fprintf(out, "  Build ID:  %s\n", result.BuildID)
	fmt.Fprintf(out, "  Took:      %s\n", formatDuration(took))
	fmt.Fprintf(out, "\nIndex stored at: %s\n", result.SnapshotPath)
}

// newBuildProgress renders stage transitions as a percentage bar.
func newBuildProgress(w io.Writer) func(domain.Progress) {
	var (
		mu  sync.Mutex
		bar *progressbar.ProgressBar
	)
	return func(ev domain.Progress) {
		mu.Lock()
		defer mu.Unlock()

		if bar == nil {
			bar = progressbar.NewOptions(100,
				progressbar.OptionSetWriter(w),
				progressbar.OptionEnableColorCodes(true),
				progressbar.OptionSetWidth(40),
				progressbar.OptionSetPredictTime(false),
				progressbar.OptionSetDescription("[cyan]Building[reset]"),
				progressbar.OptionSetTheme(progressbar.Theme{
					Saucer:        "[green]=[reset]",
					SaucerHead:    "[green]>[reset]",
					SaucerPadding: " ",
					BarStart:      "[",
					BarEnd:        "]",
				}),
				progressbar.OptionOnCompletion(func() {
					fmt.Fprintln(w)
				}),
			)
		}

		switch ev.Stage {
		case domain.StageFailed:
			_ = bar.Clear()
			return
		case domain.StagePersisted:
			_ = bar.Finish()
			return
		}
		bar.Describe(fmt.Sprintf("[cyan]%s[reset] %s", ev.Stage, ev.Message))
		_ = bar.Set(ev.Percent)
	}
}

// formatDuration formats a duration in a human-readable way.
func formatDuration(d time.Duration) string {
	if d < time.Second {
		return "<1s"
	}
	if d < time.Minute {
		return fmt.Sprintf("%ds", int(d.Seconds()))
	}
	m := int(d.Minutes())
	s := int(d.Seconds()) % 60
	return fmt.Sprintf("%dm%ds", m, s)
}
