package commands

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"

	"github.com/livetemplate/lessonview/internal/server"
)

var (
	servePort  int
	serveHost  string
	serveWatch bool
	serveDebug bool
)

var serveCmd = &cobra.Command{
	Use:   "serve [directory]",
	Short: "Start the lesson server",
	Long: `Serve every lesson under the directory. Each page mounts its lesson and
keeps a live channel open for copy, terminal runs and widget actions.`,
	Example: `  lessonview serve
  lessonview serve ./tutorials --port 3000
  lessonview serve --watch=false`,
	Args: cobra.MaximumNArgs(1),
	RunE: runServe,
}

func init() {
	rootCmd.AddCommand(serveCmd)
	serveCmd.Flags().IntVarP(&servePort, "port", "p", 0, "port to listen on (default from config)")
	serveCmd.Flags().StringVar(&serveHost, "host", "", "host to bind (default from config)")
	serveCmd.Flags().BoolVarP(&serveWatch, "watch", "w", true, "reload pages when lesson files change")
	serveCmd.Flags().BoolVar(&serveDebug, "debug", false, "log every file event and websocket message")
}

func runServe(cmd *cobra.Command, args []string) error {
	absDir, err := dirArg(args)
	if err != nil {
		return err
	}
	cfg, configDir, err := loadConfig(absDir)
	if err != nil {
		return err
	}

	if cmd.Flags().Changed("port") {
		cfg.Server.Port = servePort
	}
	if serveHost != "" {
		cfg.Server.Host = serveHost
	}
	if serveDebug {
		cfg.Server.Debug = true
	}
	watch := cfg.Features.HotReload
	if cmd.Flags().Changed("watch") {
		watch = serveWatch
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	srv, err := server.Build(ctx, absDir, configDir, cfg)
	if err != nil {
		return err
	}
	defer srv.Close()

	out := cmd.OutOrStdout()
	fmt.Fprintf(out, "📚 %s\n\n", cfg.Title)
	fmt.Fprintf(out, "Serving: %s\n", absDir)

	if err := srv.Discover(); err != nil {
		return fmt.Errorf("failed to discover lessons: %w", err)
	}

	routes := srv.Routes()
	fmt.Fprintf(out, "\nLessons discovered:\n")
	for _, route := range routes {
		fmt.Fprintf(out, "  %-30s %s\n", route.Pattern, route.FilePath)
	}
	if len(routes) == 0 {
		fmt.Fprintf(out, "  (none yet, add a .md or .yaml lesson)\n")
	}

	if watch {
		if err := srv.EnableWatch(cfg.Server.Debug); err != nil {
			return fmt.Errorf("failed to enable watch mode: %w", err)
		}
		fmt.Fprintf(out, "\n👀 Watch mode enabled - pages reload when lessons change\n")
	}

	fmt.Fprintf(out, "\n🌐 Server running at http://%s\n", cfg.Server.Addr())
	if cfg.Diagram.IsServerSide() {
		fmt.Fprintf(out, "📈 Diagrams rendered server side\n")
	}
	fmt.Fprintf(out, "Press Ctrl+C to stop\n\n")

	if err := srv.ListenAndServe(ctx); err != nil {
		return fmt.Errorf("server error: %w", err)
	}
	return nil
}
