package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"path/filepath"
	"syscall"

	"github.com/hpungsan/eidon/internal/app"
	"github.com/hpungsan/eidon/internal/config"
	"github.com/hpungsan/eidon/internal/logger"
	"github.com/hpungsan/eidon/internal/mcp"
	"github.com/hpungsan/eidon/internal/ops"
	"github.com/hpungsan/eidon/internal/web"
)

// Version is set via -ldflags at build time.
var Version = "dev"

// cliCommands contains known CLI subcommands.
var cliCommands = map[string]bool{
	"daemon": true, "mcp": true,
	"status": true, "pause": true, "resume": true, "capture": true,
	"timeline": true, "search": true, "entry": true,
	"rules": true, "archives": true, "stats": true, "cleanup": true,
	"settings": true,
	"help":     true,
}

// isCLIMode determines if we should run CLI vs MCP server.
func isCLIMode() bool {
	if len(os.Args) < 2 {
		return false // No args → MCP server
	}
	arg := os.Args[1]
	if cliCommands[arg] {
		return true
	}
	if arg == "--help" || arg == "-h" || arg == "--version" || arg == "-v" {
		return true
	}
	return false // Default → MCP server
}

// isHelpOrVersion returns true if the user is requesting help or version info.
func isHelpOrVersion() bool {
	if len(os.Args) < 2 {
		return false
	}
	arg := os.Args[1]
	return arg == "--help" || arg == "-h" || arg == "--version" || arg == "-v" || arg == "help"
}

// isTerminal returns true if stdin is a terminal (not piped).
func isTerminal() bool {
	stat, _ := os.Stdin.Stat()
	return (stat.Mode() & os.ModeCharDevice) != 0
}

// printBanner displays a friendly banner when run interactively without args.
func printBanner() {
	fmt.Println(`
   ___ _    _
  | __(_)__| |___ _ _
  | _|| / _' / _ \ ' \
  |___|_\__,_\___/_||_|

  Screen activity recall

  Usage: eidon daemon            start capturing and serve the web UI
         eidon <command> [options]
         eidon --help

  MCP server mode requires piped input.`)
}

// newLogger picks where diagnostics go. The daemon logs to stdout and
// ~/.eidon/logs; everything else writes to stderr so stdout stays clean for
// JSON output and the MCP protocol.
func newLogger(baseDir string, daemon bool) (*logger.Logger, error) {
	if daemon {
		return logger.New(filepath.Join(baseDir, "logs"))
	}
	return logger.NewWriter(os.Stderr), nil
}

func main() {
	// No args + interactive terminal → show banner and exit
	if len(os.Args) < 2 && isTerminal() {
		printBanner()
		return
	}

	// Handle --help/--version before opening anything
	if isHelpOrVersion() {
		cliApp := newCLIApp(nil, nil)
		if err := cliApp.Run(os.Args); err != nil {
			fmt.Fprintf(os.Stderr, "error: %v\n", err)
			os.Exit(1)
		}
		return
	}

	// Unknown argument + terminal → show error (don't start MCP server)
	if !isCLIMode() && len(os.Args) >= 2 && isTerminal() {
		fmt.Fprintf(os.Stderr, "error: unknown command %q\n", os.Args[1])
		fmt.Fprintf(os.Stderr, "Run 'eidon --help' for usage.\n")
		os.Exit(1)
	}

	os.Exit(run())
}

func run() int {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	baseDir := os.Getenv(config.EnvHome)
	if baseDir == "" {
		var err error
		if baseDir, err = app.DefaultBaseDir(); err != nil {
			fmt.Fprintf(os.Stderr, "error: %v\n", err)
			return 1
		}
	}

	daemon := len(os.Args) >= 2 && os.Args[1] == "daemon"
	log, err := newLogger(baseDir, daemon)
	if err != nil {
		fmt.Fprintf(os.Stderr, "error: failed to open logs: %v\n", err)
		return 1
	}
	defer log.Close()

	a, err := app.Open(ctx, app.Options{BaseDir: baseDir, Log: log})
	if err != nil {
		fmt.Fprintf(os.Stderr, "error: %v\n", err)
		return 1
	}
	defer a.Close()

	// Outside the daemon, capture control goes through the daemon's API.
	cfg := a.Config.Current()
	svc := a.Services(web.NewClient(web.BaseURL(cfg.Server.Bind, cfg.Server.Port)))

	// CLI mode: known subcommand
	if isCLIMode() {
		cliApp := newCLIApp(a, svc)
		if err := cliApp.RunContext(ctx, os.Args); err != nil {
			fmt.Fprintf(os.Stderr, "error: %v\n", err)
			return 1
		}
		return 0
	}

	// MCP server mode (default)
	if err := mcp.Run(svc, Version); err != nil {
		fmt.Fprintf(os.Stderr, "error: %v\n", err)
		return 1
	}
	return 0
}

// runDaemon starts capture, the sweeps and the web server, and blocks until
// ctx is cancelled.
func runDaemon(ctx context.Context, a *app.App, bind string, port int) error {
	cfg := a.Config.Current()
	if bind == "" {
		bind = cfg.Server.Bind
	}
	if port == 0 {
		port = cfg.Server.Port
	}

	if web.NewClient(web.BaseURL(bind, port)).Ping(ctx) {
		return fmt.Errorf("a daemon is already running at %s", web.BaseURL(bind, port))
	}

	sched, err := a.EnableCapture(ctx, web.BaseURL(bind, port))
	if err != nil {
		return err
	}
	srv, err := web.NewServer(a.Services(ops.LocalCapture{S: sched}), web.Options{
		Version: Version,
		Bind:    bind,
		Port:    port,
		Log:     a.Log,
		Events:  sched,
	})
	if err != nil {
		return err
	}

	ctx, cancel := context.WithCancel(ctx)
	defer cancel()

	errCh := make(chan error, 1)
	go func() {
		err := srv.Run(ctx)
		// The UI is how users see and stop capture; without it, stop everything.
		cancel()
		errCh <- err
	}()

	st := sched.Status()
	a.Log.Info("eidon %s started (capture %s, backend %s)", Version, st.State, st.Backend)
	if err := a.Run(ctx); err != nil {
		cancel()
		<-errCh
		return err
	}
	return <-errCh
}
