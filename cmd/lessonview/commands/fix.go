package commands

import (
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"

	"github.com/spf13/cobra"

	"github.com/livetemplate/lessonview"
	"github.com/livetemplate/lessonview/internal/server"
)

var fixDryRun bool

var fixCmd = &cobra.Command{
	Use:   "fix [directory]",
	Short: "Normalize whitespace in lesson files",
	Long: `Fix normalizes line endings, trailing whitespace and blank lines in
every lesson file. A file is only rewritten when the fixed content still
parses.`,
	Example: `  lessonview fix --dry-run
  lessonview fix ./tutorials`,
	Args: cobra.MaximumNArgs(1),
	RunE: runFix,
}

func init() {
	rootCmd.AddCommand(fixCmd)
	fixCmd.Flags().BoolVarP(&fixDryRun, "dry-run", "n", false, "report fixes without writing them")
}

type fileFixResult struct {
	file  string
	fixes []string
	err   error
}

func runFix(cmd *cobra.Command, args []string) error {
	absDir, err := dirArg(args)
	if err != nil {
		return err
	}
	cfg, _, err := loadConfig(absDir)
	if err != nil {
		return err
	}
	files, err := server.LessonFiles(absDir, cfg.Ignore)
	if err != nil {
		return fmt.Errorf("failed to walk directory: %w", err)
	}

	out := cmd.OutOrStdout()
	if fixDryRun {
		fmt.Fprintf(out, "🔍 Checking lessons in: %s (dry-run mode)\n\n", absDir)
	} else {
		fmt.Fprintf(out, "🔧 Fixing lessons in: %s\n\n", absDir)
	}

	var results []fileFixResult
	for _, rel := range files {
		fixes, err := fixFile(filepath.Join(absDir, filepath.FromSlash(rel)), fixDryRun)
		if err != nil || len(fixes) > 0 {
			results = append(results, fileFixResult{file: rel, fixes: fixes, err: err})
		}
	}
	printFixes(out, len(files), results, fixDryRun)
	return nil
}

func printFixes(w io.Writer, total int, results []fileFixResult, dryRun bool) {
	var fixedFiles, totalFixes int
	for _, fr := range results {
		if fr.err != nil {
			fmt.Fprintf(w, "✗ %s: %v\n", fr.file, fr.err)
			continue
		}
		status := "✓"
		if dryRun {
			status = "○"
		}
		fixedFiles++
		totalFixes += len(fr.fixes)
		fmt.Fprintf(w, "%s %s: %d fix(es)\n", status, fr.file, len(fr.fixes))
		for _, fix := range fr.fixes {
			fmt.Fprintf(w, "  - %s\n", fix)
		}
	}

	fmt.Fprint(w, "\n"+strings.Repeat("─", 60)+"\n")
	fmt.Fprintln(w, "Summary:")
	fmt.Fprintf(w, "  Total files:  %d\n", total)
	fmt.Fprintf(w, "  Files fixed:  %d\n", fixedFiles)
	fmt.Fprintf(w, "  Total fixes:  %d\n", totalFixes)
	fmt.Fprintln(w)

	switch {
	case dryRun && totalFixes > 0:
		fmt.Fprintf(w, "💡 Run without --dry-run to apply fixes\n")
	case totalFixes > 0:
		fmt.Fprintf(w, "✓ Fixed %d issue(s) in %d file(s)\n", totalFixes, fixedFiles)
	default:
		fmt.Fprintf(w, "✓ No issues found\n")
	}
}

// fixFile applies normalizeLesson to path and writes the result back
// unless dryRun is set or the fixed content no longer parses.
func fixFile(path string, dryRun bool) ([]string, error) {
	content, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read file: %w", err)
	}
	markdown := strings.EqualFold(filepath.Ext(path), ".md")
	fixed, fixes := normalizeLesson(string(content), markdown)
	if len(fixes) == 0 || dryRun {
		return fixes, nil
	}

	if markdown {
		_, err = lessonview.ParseString(fixed)
	} else {
		_, err = lessonview.ParseYAML([]byte(fixed), path)
	}
	if err != nil {
		return nil, fmt.Errorf("fixes would break file: %w", err)
	}
	if err := os.WriteFile(path, []byte(fixed), 0644); err != nil {
		return nil, fmt.Errorf("failed to write file: %w", err)
	}
	return fixes, nil
}

// normalizeLesson returns content with whitespace normalized and a
// description of each fix applied. Markdown hard breaks (two trailing
// spaces) survive trailing whitespace removal.
func normalizeLesson(content string, markdown bool) (string, []string) {
	fixed := content
	var fixes []string

	if strings.Contains(fixed, "\r\n") {
		fixed = strings.ReplaceAll(fixed, "\r\n", "\n")
		fixes = append(fixes, "Normalized line endings (CRLF → LF)")
	}

	lines := strings.Split(fixed, "\n")
	trimmedAny := false
	for i, line := range lines {
		trimmed := strings.TrimRight(line, " \t")
		if markdown && trimmed != "" && strings.HasSuffix(line, "  ") && !strings.ContainsAny(line[len(trimmed):], "\t") {
			trimmed += "  "
		}
		if trimmed != line {
			lines[i] = trimmed
			trimmedAny = true
		}
	}
	if trimmedAny {
		fixed = strings.Join(lines, "\n")
		fixes = append(fixes, "Removed trailing whitespace")
	}

	switch {
	case !strings.HasSuffix(fixed, "\n"):
		fixed += "\n"
		fixes = append(fixes, "Added newline at end of file")
	case strings.HasSuffix(fixed, "\n\n"):
		fixed = strings.TrimRight(fixed, "\n") + "\n"
		fixes = append(fixes, "Removed excessive newlines at end of file")
	}

	collapsed := fixed
	for strings.Contains(collapsed, "\n\n\n\n") {
		collapsed = strings.ReplaceAll(collapsed, "\n\n\n\n", "\n\n\n")
	}
	if collapsed != fixed {
		fixed = collapsed
		fixes = append(fixes, "Normalized multiple blank lines")
	}
	return fixed, fixes
}
