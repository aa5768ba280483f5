package commands

import (
	"fmt"
	"io"
	"io/fs"
	"os"
	"os/exec"
	"path/filepath"
	"strings"

	"github.com/spf13/cobra"
	"golang.org/x/mod/modfile"
	"golang.org/x/mod/semver"

	"github.com/livetemplate/lessonview"
	"github.com/livetemplate/lessonview/internal/config"
)

const modulePath = "github.com/livetemplate/lessonview"

// maxDirTraversalDepth bounds the search for a lessonview checkout.
const maxDirTraversalDepth = 15

// sourcePath is set with -ldflags for development builds.
var sourcePath string

var (
	buildOut    string
	buildTarget string
)

var buildCmd = &cobra.Command{
	Use:   "build [directory]",
	Short: "Compile lessons into a standalone server binary",
	Long: `Build embeds a lesson directory and its config into a single
executable that serves it. Cross compile with --target os/arch.`,
	Example: `  lessonview build ./tutorials -o tutorials-server
  lessonview build . --target linux/amd64`,
	Args: cobra.MaximumNArgs(1),
	RunE: runBuild,
}

func init() {
	rootCmd.AddCommand(buildCmd)
	buildCmd.Flags().StringVarP(&buildOut, "output", "o", "", "output binary (default: <dir>-server)")
	buildCmd.Flags().StringVarP(&buildTarget, "target", "t", "", "cross compile target as os/arch")
}

func runBuild(cmd *cobra.Command, args []string) error {
	absDir, err := dirArg(args)
	if err != nil {
		return err
	}
	goos, goarch, err := parseTarget(buildTarget)
	if err != nil {
		return err
	}

	output := buildOut
	if output == "" {
		output = filepath.Base(absDir) + "-server"
	}
	absOutput, err := filepath.Abs(output)
	if err != nil {
		return fmt.Errorf("failed to get absolute output path: %w", err)
	}

	out := cmd.OutOrStdout()
	fmt.Fprintf(out, "🔨 Building lesson server...\n")
	fmt.Fprintf(out, "   Input: %s\n", absDir)
	fmt.Fprintf(out, "   Output: %s\n", absOutput)
	if buildTarget != "" {
		fmt.Fprintf(out, "   Target: %s/%s\n", goos, goarch)
	}

	localPath, version, err := findModule()
	if err != nil {
		return err
	}

	tmpDir, err := os.MkdirTemp("", "lessonview-build-*")
	if err != nil {
		return fmt.Errorf("failed to create temp directory: %w", err)
	}
	defer os.RemoveAll(tmpDir)

	if err := writeBuildSource(tmpDir, absDir, localPath, version); err != nil {
		return fmt.Errorf("failed to generate build source: %w", err)
	}

	env := os.Environ()
	if goos != "" {
		env = append(env, "GOOS="+goos, "GOARCH="+goarch, "CGO_ENABLED=0")
	}
	if err := goCommand(tmpDir, env, out, "mod", "tidy"); err != nil {
		return fmt.Errorf("go mod tidy failed: %w", err)
	}
	fmt.Fprintf(out, "\n🔧 Compiling...\n")
	if err := goCommand(tmpDir, env, out, "build", "-o", absOutput, "."); err != nil {
		return fmt.Errorf("go build failed: %w", err)
	}

	fmt.Fprintf(out, "\n✅ Build successful!\n")
	fmt.Fprintf(out, "   Run with: ./%s\n", filepath.Base(absOutput))
	fmt.Fprintf(out, "   Options:  --port=8080 --host=localhost\n")
	return nil
}

var (
	validGOOS   = map[string]bool{"linux": true, "darwin": true, "windows": true, "freebsd": true, "openbsd": true, "netbsd": true}
	validGOARCH = map[string]bool{"amd64": true, "arm64": true, "386": true, "arm": true}
)

// parseTarget splits an os/arch pair. An empty target builds for the host.
func parseTarget(target string) (string, string, error) {
	if target == "" {
		return "", "", nil
	}
	goos, goarch, ok := strings.Cut(target, "/")
	if !ok || goos == "" || goarch == "" {
		return "", "", fmt.Errorf("invalid target format %q, expected os/arch (e.g., linux/amd64)", target)
	}
	if !validGOOS[goos] {
		return "", "", fmt.Errorf("unsupported GOOS: %s", goos)
	}
	if !validGOARCH[goarch] {
		return "", "", fmt.Errorf("unsupported GOARCH: %s", goarch)
	}
	return goos, goarch, nil
}

// writeBuildSource lays out a throwaway module: content/ holds the
// lessons, main.go embeds and serves them.
func writeBuildSource(tmpDir, lessonDir, localPath, version string) error {
	if err := copyContent(lessonDir, filepath.Join(tmpDir, "content")); err != nil {
		return fmt.Errorf("failed to copy lessons: %w", err)
	}
	if configPath != "" {
		data, err := os.ReadFile(configPath)
		if err != nil {
			return fmt.Errorf("failed to read config: %w", err)
		}
		if err := os.WriteFile(filepath.Join(tmpDir, "content", config.FileName), data, 0644); err != nil {
			return err
		}
	}
	if err := os.WriteFile(filepath.Join(tmpDir, "main.go"), []byte(mainGoSource), 0644); err != nil {
		return fmt.Errorf("failed to write main.go: %w", err)
	}
	return os.WriteFile(filepath.Join(tmpDir, "go.mod"), []byte(goModSource(localPath, version)), 0644)
}

func goModSource(localPath, version string) string {
	if localPath != "" {
		return fmt.Sprintf(`module lessonview-app

go 1.26.0

require %s v0.0.0

replace %s => %s
`, modulePath, modulePath, localPath)
	}
	return fmt.Sprintf(`module lessonview-app

go 1.26.0

require %s %s
`, modulePath, version)
}

const mainGoSource = `package main

import (
	"embed"
	"flag"
	"fmt"
	"os"

	"github.com/livetemplate/lessonview/pkg/embedded"
)

//go:embed all:content
var contentFS embed.FS

func main() {
	port := flag.Int("port", 8080, "Server port")
	host := flag.String("host", "localhost", "Server host")
	flag.Parse()

	addr := fmt.Sprintf("%s:%d", *host, *port)
	fmt.Printf("📚 Lesson server running at http://%s\n", addr)
	fmt.Printf("Press Ctrl+C to stop\n\n")

	if err := embedded.Serve(contentFS, "content", addr); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}
`

// copyContent copies lesson files, the config and any widget modules.
// Directories starting with "_" or "." are skipped, as in discovery.
func copyContent(src, dst string) error {
	return filepath.WalkDir(src, func(path string, d fs.DirEntry, err error) error {
		if err != nil {
			return err
		}
		rel, err := filepath.Rel(src, path)
		if err != nil {
			return err
		}
		if d.IsDir() {
			if rel != "." && (strings.HasPrefix(d.Name(), "_") || strings.HasPrefix(d.Name(), ".")) {
				return filepath.SkipDir
			}
			return os.MkdirAll(filepath.Join(dst, rel), 0755)
		}
		if !lessonview.IsLessonFile(path) && !strings.EqualFold(filepath.Ext(path), ".wasm") {
			return nil
		}
		return copyFile(path, filepath.Join(dst, rel))
	})
}

func copyFile(src, dst string) error {
	in, err := os.Open(src)
	if err != nil {
		return err
	}
	defer in.Close()
	out, err := os.Create(dst)
	if err != nil {
		return err
	}
	if _, err := io.Copy(out, in); err != nil {
		out.Close()
		return err
	}
	return out.Close()
}

func goCommand(dir string, env []string, out io.Writer, args ...string) error {
	c := exec.Command("go", args...)
	c.Dir = dir
	c.Env = env
	c.Stdout = out
	c.Stderr = os.Stderr
	return c.Run()
}

// findModule locates lessonview for the generated go.mod. A local
// checkout is preferred and used through a replace directive; otherwise
// the newest version in the module cache is required.
func findModule() (string, string, error) {
	if sourcePath != "" && isModuleRoot(sourcePath) {
		return sourcePath, "", nil
	}
	if exe, err := os.Executable(); err == nil {
		if resolved, err := filepath.EvalSymlinks(exe); err == nil {
			exe = resolved
		}
		if dir := findModuleInParents(filepath.Dir(exe)); dir != "" {
			return dir, "", nil
		}
	}
	if wd, err := os.Getwd(); err == nil {
		if dir := findModuleInParents(wd); dir != "" {
			return dir, "", nil
		}
	}

	gopath := os.Getenv("GOPATH")
	if gopath == "" {
		home, _ := os.UserHomeDir()
		gopath = filepath.Join(home, "go")
	}
	if v := latestCachedVersion(filepath.Join(gopath, "pkg", "mod", "github.com", "livetemplate")); v != "" {
		return "", v, nil
	}
	return "", "", fmt.Errorf("could not find the lessonview module - install it or run from a source checkout")
}

func findModuleInParents(dir string) string {
	for i := 0; i < maxDirTraversalDepth; i++ {
		if isModuleRoot(dir) {
			return dir
		}
		parent := filepath.Dir(dir)
		if parent == dir {
			break
		}
		dir = parent
	}
	return ""
}

func isModuleRoot(dir string) bool {
	data, err := os.ReadFile(filepath.Join(dir, "go.mod"))
	if err != nil {
		return false
	}
	return modfile.ModulePath(data) == modulePath
}

// latestCachedVersion returns the highest lessonview@<version> entry
// under modCache.
func latestCachedVersion(modCache string) string {
	entries, err := os.ReadDir(modCache)
	if err != nil {
		return ""
	}
	var latest string
	for _, e := range entries {
		v, ok := strings.CutPrefix(e.Name(), "lessonview@")
		if !ok || !semver.IsValid(v) {
			continue
		}
		if latest == "" || semver.Compare(v, latest) > 0 {
			latest = v
		}
	}
	return latest
}
