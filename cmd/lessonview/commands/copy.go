package commands

import (
	"fmt"
	"strings"

	"github.com/spf13/cobra"

	"github.com/livetemplate/lessonview"
	"github.com/livetemplate/lessonview/internal/clipboard"
	"github.com/livetemplate/lessonview/internal/codepanel"
	"github.com/livetemplate/lessonview/internal/dispatch"
	"github.com/livetemplate/lessonview/internal/terminal"
)

var copyCmd = &cobra.Command{
	Use:   "copy <file> <block-id>",
	Short: "Copy a code or terminal block to the clipboard",
	Long: `Copy the code of a block to the system clipboard using the terminal's
OSC 52 escape sequence. Block ids are listed by "lessonview blocks".
Terminal blocks copy their command.`,
	Example: `  lessonview copy basics.md try-it-0`,
	Args:    cobra.ExactArgs(2),
	RunE:    runCopy,
}

func init() {
	rootCmd.AddCommand(copyCmd)
}

func runCopy(cmd *cobra.Command, args []string) error {
	lesson, err := lessonview.ParseFile(args[0])
	if err != nil {
		return err
	}
	item, ok := findBlock(lesson, args[1])
	if !ok {
		return fmt.Errorf("block %q not found in %s", args[1], args[0])
	}

	var code, language string
	switch item.Type {
	case lessonview.TypeCode:
		code, language = item.Content.Text(), item.Language
	case lessonview.TypeTerminal:
		spec := terminal.SpecFromItem(item)
		code, language = spec.Command, spec.Language
	default:
		return fmt.Errorf("block %q is a %s item; only code and terminal blocks can be copied", args[1], item.Type)
	}

	panel := codepanel.New(code, language, codepanel.WithClipboard(clipboard.NewTerminal(cmd.OutOrStdout())))
	defer panel.Close()
	if err := panel.Copy(cmd.Context()); err != nil {
		return fmt.Errorf("failed to copy: %w", err)
	}

	lines := strings.Count(panel.Code(), "\n") + 1
	fmt.Fprintf(cmd.ErrOrStderr(), "✓ Copied %s (%d line(s)) to the clipboard\n", args[1], lines)
	return nil
}

// findBlock resolves a block id to the item mounted under it.
func findBlock(lesson *lessonview.Lesson, id string) (lessonview.ContentItem, bool) {
	for _, sec := range lesson.Sections {
		for i, item := range sec.Items {
			if dispatch.BlockID(sec.ID, i) == id {
				return item, true
			}
		}
	}
	return lessonview.ContentItem{}, false
}
