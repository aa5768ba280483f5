package commands

import (
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"strings"

	"github.com/spf13/cobra"

	"github.com/livetemplate/lessonview/internal/assets"
	"github.com/livetemplate/lessonview/internal/codepanel"
	"github.com/livetemplate/lessonview/internal/server"
)

var renderOut string

var renderCmd = &cobra.Command{
	Use:   "render [directory]",
	Short: "Render every lesson to static HTML",
	Long: `Render every lesson to a static site. Each page is written as
<pattern>/index.html next to the client assets. Widgets show their
settled state; interaction needs the live server.`,
	Example: `  lessonview render ./tutorials --out site`,
	Args:    cobra.MaximumNArgs(1),
	RunE:    runRender,
}

func init() {
	rootCmd.AddCommand(renderCmd)
	renderCmd.Flags().StringVarP(&renderOut, "out", "o", "dist", "output directory")
}

func runRender(cmd *cobra.Command, args []string) error {
	absDir, err := dirArg(args)
	if err != nil {
		return err
	}
	cfg, configDir, err := loadConfig(absDir)
	if err != nil {
		return err
	}

	ctx := cmd.Context()
	srv, err := server.Build(ctx, absDir, configDir, cfg)
	if err != nil {
		return err
	}
	defer srv.Close()

	if err := srv.Discover(); err != nil {
		return fmt.Errorf("failed to discover lessons: %w", err)
	}

	outDir, err := filepath.Abs(renderOut)
	if err != nil {
		return fmt.Errorf("failed to get absolute path: %w", err)
	}

	out := cmd.OutOrStdout()
	hasRoot := false
	routes := srv.Routes()
	for _, route := range routes {
		page, err := srv.RenderPage(ctx, route)
		if err != nil {
			return fmt.Errorf("failed to render %s: %w", route.FilePath, err)
		}
		path := pagePath(outDir, route.Pattern)
		if err := writeFile(path, page); err != nil {
			return err
		}
		rel, _ := filepath.Rel(outDir, path)
		fmt.Fprintf(out, "✓ %-30s %s\n", route.Pattern, filepath.ToSlash(rel))
		hasRoot = hasRoot || route.Pattern == "/"
	}

	if !hasRoot {
		index, err := srv.RenderIndex()
		if err != nil {
			return fmt.Errorf("failed to render index: %w", err)
		}
		if err := writeFile(pagePath(outDir, "/"), index); err != nil {
			return err
		}
	}

	if err := writeAssets(filepath.Join(outDir, "assets")); err != nil {
		return err
	}

	fmt.Fprintf(out, "\n✨ Rendered %d lesson(s) to %s\n", len(routes), renderOut)
	return nil
}

// pagePath maps a route pattern to the file a static host serves for it.
func pagePath(outDir, pattern string) string {
	rel := strings.Trim(pattern, "/")
	return filepath.Join(outDir, filepath.FromSlash(rel), "index.html")
}

func writeFile(path string, data []byte) error {
	if err := os.MkdirAll(filepath.Dir(path), 0755); err != nil {
		return fmt.Errorf("failed to create directory %s: %w", filepath.Dir(path), err)
	}
	if err := os.WriteFile(path, data, 0644); err != nil {
		return fmt.Errorf("failed to write %s: %w", path, err)
	}
	return nil
}

// writeAssets copies the client script, stylesheet and highlight CSS.
func writeAssets(dir string) error {
	client := assets.ClientFS()
	err := fs.WalkDir(client, ".", func(p string, d fs.DirEntry, err error) error {
		if err != nil || d.IsDir() {
			return err
		}
		data, err := fs.ReadFile(client, p)
		if err != nil {
			return err
		}
		return writeFile(filepath.Join(dir, filepath.FromSlash(p)), data)
	})
	if err != nil {
		return fmt.Errorf("failed to copy client assets: %w", err)
	}

	f, err := os.Create(filepath.Join(dir, server.HighlightCSSName))
	if err != nil {
		return fmt.Errorf("failed to create highlight CSS: %w", err)
	}
	defer f.Close()
	return codepanel.WriteCSS(f)
}
