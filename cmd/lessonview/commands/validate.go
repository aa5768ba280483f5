package commands

import (
	"context"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"sort"
	"strings"

	"github.com/spf13/cobra"

	"github.com/livetemplate/lessonview"
	"github.com/livetemplate/lessonview/internal/config"
	"github.com/livetemplate/lessonview/internal/diagram"
	"github.com/livetemplate/lessonview/internal/dispatch"
	"github.com/livetemplate/lessonview/internal/security"
	"github.com/livetemplate/lessonview/internal/server"
)

var validateDiagrams bool

var validateCmd = &cobra.Command{
	Use:   "validate [directory]",
	Short: "Check lessons and config for errors",
	Long: `Parse every lesson and report problems: malformed documents, unknown
item types, widgets that are not registered and unsafe image sources.
With --diagrams, each mermaid diagram is rendered in headless Chrome.`,
	Example: `  lessonview validate
  lessonview validate tutorials/ --diagrams`,
	Args: cobra.MaximumNArgs(1),
	RunE: runValidate,
}

func init() {
	rootCmd.AddCommand(validateCmd)
	validateCmd.Flags().BoolVar(&validateDiagrams, "diagrams", false, "render mermaid diagrams in headless Chrome")
}

type fileValidationError struct {
	file   string
	errors []string
}

func runValidate(cmd *cobra.Command, args []string) error {
	absDir, err := dirArg(args)
	if err != nil {
		return err
	}
	cfg, configDir, err := loadConfig(absDir)
	if err != nil {
		return err
	}

	out := cmd.OutOrStdout()
	fmt.Fprintf(out, "🔍 Validating lessons in: %s\n\n", absDir)

	var fileErrors []fileValidationError
	if problems := checkConfig(cfg, configDir); len(problems) > 0 {
		fileErrors = append(fileErrors, fileValidationError{file: config.FileName, errors: problems})
	}

	files, err := server.LessonFiles(absDir, cfg.Ignore)
	if err != nil {
		return err
	}

	var render diagram.Service
	if validateDiagrams {
		svc, err := diagram.NewChromeService(diagram.ChromeOptions{
			MermaidURL: cfg.Diagram.MermaidURL,
			ExecPath:   cfg.Diagram.ChromePath,
			Timeout:    cfg.Diagram.GetTimeout(),
		})
		if err != nil {
			return fmt.Errorf("failed to start headless chrome: %w", err)
		}
		defer svc.Close()
		render = diagram.NewResilientService(svc, diagram.DefaultResilienceConfig(), nil)
	}

	known := knownWidgets(cfg)
	validFiles := 0
	for _, rel := range files {
		lesson, err := lessonview.ParseFile(filepath.Join(absDir, filepath.FromSlash(rel)))
		var problems []string
		if err != nil {
			problems = []string{err.Error()}
		} else {
			problems = checkLesson(cmd.Context(), lesson, known, render)
		}
		if len(problems) > 0 {
			fileErrors = append(fileErrors, fileValidationError{file: rel, errors: problems})
			continue
		}
		validFiles++
		fmt.Fprintf(out, "✓ %s\n", rel)
	}

	totalErrors := printValidationErrors(out, fileErrors)

	separator := "\n" + strings.Repeat("─", 60) + "\n"
	fmt.Fprint(out, separator)
	fmt.Fprintln(out, "Summary:")
	fmt.Fprintf(out, "  Total files: %d\n", len(files))
	fmt.Fprintf(out, "  Valid:       %d\n", validFiles)
	fmt.Fprintf(out, "  Errors:      %d\n", totalErrors)
	fmt.Fprintln(out)

	if totalErrors > 0 {
		fmt.Fprintf(out, "✗ Validation failed with %d error(s)\n", totalErrors)
		return fmt.Errorf("validation failed")
	}

	fmt.Fprintf(out, "✓ All checks passed!\n")
	return nil
}

// checkConfig reports invalid settings and missing widget modules.
func checkConfig(cfg *config.Config, configDir string) []string {
	var problems []string
	if err := cfg.Validate(); err != nil {
		problems = append(problems, err.Error())
	}
	names := make([]string, 0, len(cfg.Widgets))
	for name := range cfg.Widgets {
		names = append(names, name)
	}
	sort.Strings(names)
	for _, name := range names {
		path := cfg.WidgetPath(configDir, name)
		if path == "" {
			continue
		}
		if _, err := os.Stat(path); err != nil {
			problems = append(problems, fmt.Sprintf("widget %q: module not found at %s", name, path))
		}
	}
	return problems
}

// checkLesson reports items that would not render as written. Diagrams are
// rendered only when render is non-nil.
func checkLesson(ctx context.Context, lesson *lessonview.Lesson, known map[string]bool, render diagram.Service) []string {
	var problems []string
	for _, sec := range lesson.Sections {
		for i, item := range sec.Items {
			id := dispatch.BlockID(sec.ID, i)
			switch {
			case !item.Type.Known():
				problems = append(problems, fmt.Sprintf("%s: unknown item type %q renders nothing", id, item.Type))
			case item.Type == lessonview.TypeInteractive && !known[item.Component]:
				problems = append(problems, fmt.Sprintf("%s: widget %q not found", id, item.Component))
			case item.Type == lessonview.TypeImage:
				if err := security.ValidateImageSource(item.Content.Text()); err != nil {
					problems = append(problems, fmt.Sprintf("%s: %v", id, err))
				}
			case item.Type == lessonview.TypeMermaid && render != nil:
				if _, err := render.Render(ctx, "validate-"+id, item.Content.Text()); err != nil {
					problems = append(problems, fmt.Sprintf("%s: diagram failed to render: %v", id, err))
				}
			}
		}
	}
	return problems
}

func printValidationErrors(w io.Writer, fileErrors []fileValidationError) int {
	total := 0
	if len(fileErrors) > 0 {
		fmt.Fprintln(w)
	}
	for _, fe := range fileErrors {
		fmt.Fprintf(w, "✗ %s:\n", fe.file)
		for _, msg := range fe.errors {
			total++
			for _, line := range strings.Split(msg, "\n") {
				if line != "" {
					fmt.Fprintf(w, "  %s\n", line)
				}
			}
		}
		fmt.Fprintln(w)
	}
	return total
}
