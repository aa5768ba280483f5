package commands

import (
	"context"
	"errors"
	"fmt"
	"os"
	"os/signal"
	"path/filepath"

	"github.com/spf13/cobra"

	"github.com/livetemplate/lessonview"
	"github.com/livetemplate/lessonview/internal/preview"
	"github.com/livetemplate/lessonview/internal/server"
	"github.com/livetemplate/lessonview/internal/terminal"
)

var (
	previewStyle string
	previewWidth int
	previewPlay  bool
)

var previewCmd = &cobra.Command{
	Use:   "preview <file>",
	Short: "Show a lesson in the terminal",
	Long: `Render a lesson as styled terminal text. With --play, each simulated
terminal is then run in order and its output revealed as it would be
in the browser.`,
	Example: `  lessonview preview basics.md
  lessonview preview intro.yaml --style notty --width 72
  lessonview preview intro.yaml --play`,
	Args: cobra.ExactArgs(1),
	RunE: runPreview,
}

func init() {
	rootCmd.AddCommand(previewCmd)
	previewCmd.Flags().StringVar(&previewStyle, "style", "", `glamour style: "dark", "light", "notty" (default: detect)`)
	previewCmd.Flags().IntVar(&previewWidth, "width", 80, "word wrap width")
	previewCmd.Flags().BoolVar(&previewPlay, "play", false, "play simulated terminals after the lesson")
}

func runPreview(cmd *cobra.Command, args []string) error {
	file := args[0]
	lesson, err := lessonview.ParseFile(file)
	if err != nil {
		return err
	}

	dir := filepath.Dir(file)
	cfg, configDir, err := loadConfig(dir)
	if err != nil {
		return err
	}

	ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt)
	defer stop()

	registry, closeWidgets, err := server.BuildRegistry(ctx, configDir, cfg)
	if err != nil {
		return err
	}
	defer closeWidgets()

	r, err := preview.New(preview.Options{Style: previewStyle, Width: previewWidth, Registry: registry})
	if err != nil {
		return err
	}
	text, err := r.Render(lesson)
	if err != nil {
		return fmt.Errorf("failed to render %s: %w", file, err)
	}

	out := cmd.OutOrStdout()
	fmt.Fprint(out, text)
	if !previewPlay {
		return nil
	}

	timing := terminal.WithTiming(cfg.Timing.GetRunDelay(), cfg.Timing.GetRevealTick())
	for _, sec := range lesson.Sections {
		for _, item := range sec.Items {
			if item.Type != lessonview.TypeTerminal {
				continue
			}
			err := preview.Play(ctx, out, terminal.SpecFromItem(item), timing)
			if errors.Is(err, context.Canceled) {
				return nil
			}
			if err != nil {
				return err
			}
			fmt.Fprintln(out)
		}
	}
	return nil
}
