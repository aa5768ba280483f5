package commands

import (
	"encoding/json"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"

	"github.com/spf13/cobra"

	"github.com/livetemplate/lessonview"
	"github.com/livetemplate/lessonview/internal/config"
	"github.com/livetemplate/lessonview/internal/server"
	"github.com/livetemplate/lessonview/internal/widget"
)

var blocksJSON bool

var blocksCmd = &cobra.Command{
	Use:   "blocks [file|directory]",
	Short: "List the blocks each lesson mounts",
	Long: `List every block a lesson mounts, with the id used by the live channel
and the copy command. Items of unknown type and interactive items naming
an unregistered widget are flagged.`,
	Example: `  lessonview blocks
  lessonview blocks basics.md
  lessonview blocks tutorials/ --json`,
	Args: cobra.MaximumNArgs(1),
	RunE: runBlocks,
}

func init() {
	rootCmd.AddCommand(blocksCmd)
	blocksCmd.Flags().BoolVar(&blocksJSON, "json", false, "print JSON instead of a table")
}

type fileBlocks struct {
	File   string                `json:"file"`
	Title  string                `json:"title"`
	Blocks []server.BlockSummary `json:"blocks"`
	Error  string                `json:"error,omitempty"`
}

func runBlocks(cmd *cobra.Command, args []string) error {
	target := "."
	if len(args) > 0 {
		target = args[0]
	}
	info, err := os.Stat(target)
	if err != nil {
		return fmt.Errorf("path does not exist: %s", target)
	}

	root := target
	if !info.IsDir() {
		root = filepath.Dir(target)
	}
	cfg, _, err := loadConfig(root)
	if err != nil {
		return err
	}

	files := []string{filepath.Base(target)}
	if info.IsDir() {
		if files, err = server.LessonFiles(target, cfg.Ignore); err != nil {
			return err
		}
	}

	known := knownWidgets(cfg)

	var results []fileBlocks
	for _, rel := range files {
		fb := fileBlocks{File: rel}
		lesson, err := lessonview.ParseFile(filepath.Join(root, filepath.FromSlash(rel)))
		if err != nil {
			fb.Error = err.Error()
		} else {
			fb.Title = lesson.Title
			fb.Blocks = server.Blocks(lesson)
			for i := range fb.Blocks {
				b := &fb.Blocks[i]
				if b.Type == lessonview.TypeInteractive && !known[b.Component] {
					b.Known = false
				}
			}
		}
		results = append(results, fb)
	}

	out := cmd.OutOrStdout()
	if blocksJSON {
		enc := json.NewEncoder(out)
		enc.SetIndent("", "  ")
		return enc.Encode(results)
	}
	printBlocks(out, results)
	return nil
}

// knownWidgets names every builtin and configured widget.
func knownWidgets(cfg *config.Config) map[string]bool {
	known := make(map[string]bool)
	for _, name := range widget.NewRegistry(widget.Builtins()).Names() {
		known[name] = true
	}
	for name := range cfg.Widgets {
		known[name] = true
	}
	return known
}

func printBlocks(w io.Writer, results []fileBlocks) {
	var total, flagged int
	for _, fb := range results {
		if fb.Error != "" {
			fmt.Fprintf(w, "⚠️  %s: Failed to parse: %s\n\n", fb.File, fb.Error)
			continue
		}
		fmt.Fprintf(w, "%s:\n", fb.File)
		if len(fb.Blocks) == 0 {
			fmt.Fprintf(w, "  (no blocks)\n")
		}
		for _, b := range fb.Blocks {
			total++
			label := string(b.Type)
			if b.Component != "" {
				label += " " + b.Component
			}
			var note string
			switch {
			case !b.Type.Known():
				note = "  (unknown type, renders nothing)"
				flagged++
			case !b.Known:
				note = "  (widget not found)"
				flagged++
			}
			fmt.Fprintf(w, "  %-20s %s%s\n", b.ID, label, note)
		}
		fmt.Fprintln(w)
	}

	fmt.Fprint(w, strings.Repeat("─", 60)+"\n")
	fmt.Fprintln(w, "Summary:")
	fmt.Fprintf(w, "  Lessons: %d\n", len(results))
	fmt.Fprintf(w, "  Blocks:  %d\n", total)
	fmt.Fprintf(w, "  Flagged: %d\n", flagged)
}
