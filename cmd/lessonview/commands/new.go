package commands

import (
	"embed"
	"fmt"
	"io"
	"io/fs"
	"os"
	"path"
	"path/filepath"
	"strings"
	"text/template"

	"github.com/spf13/cobra"
)

//go:embed all:templates
var templatesFS embed.FS

// projectTemplate is a scaffold under templates/<name>. Files are
// rendered with [[ ]] delimiters so lesson and widget syntax passes
// through untouched.
type projectTemplate struct {
	name        string
	description string
	// steps are printed after creation; they may use the same fields.
	steps []string
}

var projectTemplates = []projectTemplate{
	{
		name:        "basic",
		description: "Markdown and YAML lessons with code, terminal, diagram and counter",
		steps:       []string{"cd [[.ProjectName]]", "lessonview serve"},
	},
	{
		name:        "widget",
		description: "Scaffold for building a custom WASM widget",
		steps: []string{
			"cd [[.ProjectName]]",
			"tinygo build -o [[.ProjectName]].wasm -target wasi -buildmode=c-shared ./widget",
			"lessonview serve",
		},
	},
}

func lookupTemplate(name string) (projectTemplate, bool) {
	for _, t := range projectTemplates {
		if t.name == name {
			return t, true
		}
	}
	return projectTemplate{}, false
}

func templateNames() string {
	names := make([]string, len(projectTemplates))
	for i, t := range projectTemplates {
		names[i] = t.name
	}
	return strings.Join(names, ", ")
}

var (
	newTemplate string
	newList     bool
)

var newCmd = &cobra.Command{
	Use:   "new <project-name>",
	Short: "Create a new lesson project from a template",
	Example: `  lessonview new my-course
  lessonview new my-widget --template widget
  lessonview new --list`,
	Args: cobra.MaximumNArgs(1),
	RunE: runNew,
}

func init() {
	rootCmd.AddCommand(newCmd)
	newCmd.Flags().StringVarP(&newTemplate, "template", "t", "basic", "template type: "+templateNames())
	newCmd.Flags().BoolVar(&newList, "list", false, "list available templates")
}

func runNew(cmd *cobra.Command, args []string) error {
	out := cmd.OutOrStdout()
	if newList {
		fmt.Fprintf(out, "Available templates:\n\n")
		for _, t := range projectTemplates {
			fmt.Fprintf(out, "  %-14s %s\n", t.name, t.description)
		}
		return nil
	}

	if len(args) < 1 {
		return fmt.Errorf("project name required\n\nUsage: lessonview new [options] <project-name>")
	}
	dir := args[0]
	tmpl, ok := lookupTemplate(newTemplate)
	if !ok {
		return fmt.Errorf("unknown template: %s\n\nAvailable templates: %s", newTemplate, templateNames())
	}
	if err := checkProjectName(dir); err != nil {
		return err
	}
	if _, err := os.Stat(dir); !os.IsNotExist(err) {
		return fmt.Errorf("directory '%s' already exists", dir)
	}

	if err := createProject(dir, tmpl.name); err != nil {
		return err
	}
	fmt.Fprintf(out, "✨ Created new %s project: %s\n\n🚀 Next steps:\n", tmpl.name, dir)
	for _, step := range tmpl.steps {
		fmt.Fprintf(out, "   %s\n", expand(step, projectData(dir, tmpl.name)))
	}
	fmt.Fprintf(out, "\n📚 Your lessons will be available at http://localhost:8080\n")
	return nil
}

func checkProjectName(name string) error {
	switch {
	case strings.TrimSpace(name) == "":
		return fmt.Errorf("project name cannot be empty")
	case strings.ContainsAny(name, " /\\"):
		return fmt.Errorf("project name cannot contain spaces or slashes")
	}
	return nil
}

func projectData(dir, templateName string) map[string]string {
	name := filepath.Base(dir)
	return map[string]string{
		"Title":        toTitle(name),
		"ProjectName":  name,
		"TemplateName": templateName,
	}
}

// createProject renders templates/<templateName> into dir. dir is
// removed again if any file fails.
func createProject(dir, templateName string) (err error) {
	root, err := fs.Sub(templatesFS, path.Join("templates", templateName))
	if err != nil {
		return fmt.Errorf("failed to read template %s: %w", templateName, err)
	}
	if err := os.MkdirAll(dir, 0755); err != nil {
		return fmt.Errorf("failed to create directory: %w", err)
	}
	defer func() {
		if err != nil {
			os.RemoveAll(dir)
		}
	}()

	data := projectData(dir, templateName)
	written := 0
	err = fs.WalkDir(root, ".", func(p string, d fs.DirEntry, err error) error {
		if err != nil || d.IsDir() {
			return err
		}
		written++
		return renderTemplateFile(root, p, filepath.Join(dir, filepath.FromSlash(p)), data)
	})
	if err == nil && written == 0 {
		err = fmt.Errorf("template '%s' has no files", templateName)
	}
	return err
}

func renderTemplateFile(root fs.FS, name, dst string, data map[string]string) error {
	src, err := fs.ReadFile(root, name)
	if err != nil {
		return fmt.Errorf("failed to read template %s: %w", name, err)
	}
	tmpl, err := template.New(name).Delims("[[", "]]").Parse(string(src))
	if err != nil {
		return fmt.Errorf("failed to parse template %s: %w", name, err)
	}
	if err := os.MkdirAll(filepath.Dir(dst), 0755); err != nil {
		return fmt.Errorf("failed to create directory %s: %w", filepath.Dir(dst), err)
	}
	f, err := os.Create(dst)
	if err != nil {
		return fmt.Errorf("failed to create file %s: %w", dst, err)
	}
	if err := tmpl.Execute(f, data); err != nil {
		f.Close()
		return fmt.Errorf("failed to write template %s: %w", name, err)
	}
	return f.Close()
}

// expand renders a one-line template such as a next step.
func expand(text string, data map[string]string) string {
	var b strings.Builder
	tmpl, err := template.New("").Delims("[[", "]]").Parse(text)
	if err != nil || tmpl.Execute(io.Writer(&b), data) != nil {
		return text
	}
	return b.String()
}

// toTitle turns a project name into a title: "my-tutorial" becomes
// "My Tutorial".
func toTitle(name string) string {
	words := strings.FieldsFunc(name, func(r rune) bool { return r == '-' || r == '_' || r == ' ' })
	for i, w := range words {
		words[i] = strings.ToUpper(w[:1]) + strings.ToLower(w[1:])
	}
	return strings.Join(words, " ")
}
