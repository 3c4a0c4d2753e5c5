package main

import (
	"encoding/json"
	"fmt"
	"io"
	"os"
	"strings"

	"github.com/dustin/go-humanize"
	"github.com/urfave/cli/v2"

	"github.com/hpungsan/eidon/internal/app"
	"github.com/hpungsan/eidon/internal/errors"
	"github.com/hpungsan/eidon/internal/mcp"
	"github.com/hpungsan/eidon/internal/ops"
)

// maxStdinBytes caps JSON read from stdin.
const maxStdinBytes = 1 << 20

// newCLIApp creates the CLI application with all commands. a and svc are nil
// when only help or version output is needed.
func newCLIApp(a *app.App, svc *ops.Services) *cli.App {
	cliApp := &cli.App{
		Name:    "eidon",
		Usage:   "Screen activity recall",
		Version: Version,
		Commands: []*cli.Command{
			daemonCmd(a),
			mcpCmd(svc),
			statusCmd(svc),
			pauseCmd(svc),
			resumeCmd(svc),
			captureCmd(svc),
			timelineCmd(svc),
			searchCmd(svc),
			entryCmd(svc),
			rulesCmd(svc),
			archivesCmd(svc),
			statsCmd(svc),
			cleanupCmd(svc),
			settingsCmd(svc),
		},
	}
	// Disable default exit error handler to allow proper error return in tests
	cliApp.ExitErrHandler = func(_ *cli.Context, _ error) {}
	return cliApp
}

// daemonCmd creates the daemon command.
func daemonCmd(a *app.App) *cli.Command {
	return &cli.Command{
		Name:  "daemon",
		Usage: "Capture the screen in the background and serve the web UI",
		Flags: []cli.Flag{
			&cli.StringFlag{Name: "bind", Usage: "Address to listen on (default from settings)"},
			&cli.IntFlag{Name: "port", Aliases: []string{"p"}, Usage: "Port to listen on (default from settings)"},
		},
		Action: func(c *cli.Context) error {
			if err := runDaemon(c.Context, a, c.String("bind"), c.Int("port")); err != nil {
				return outputError(err)
			}
			return nil
		},
	}
}

// mcpCmd creates the mcp command.
func mcpCmd(svc *ops.Services) *cli.Command {
	return &cli.Command{
		Name:  "mcp",
		Usage: "Serve MCP tools over stdio",
		Action: func(c *cli.Context) error {
			return mcp.Run(svc, Version)
		},
	}
}

// statusCmd creates the status command.
func statusCmd(svc *ops.Services) *cli.Command {
	return &cli.Command{
		Name:  "status",
		Usage: "Show the capture state of the running daemon",
		Action: func(c *cli.Context) error {
			output, err := ops.CaptureStatus(c.Context, svc)
			if err != nil {
				return outputError(err)
			}
			return outputJSON(output)
		},
	}
}

// pauseCmd creates the pause command.
func pauseCmd(svc *ops.Services) *cli.Command {
	return &cli.Command{
		Name:  "pause",
		Usage: "Pause capture",
		Action: func(c *cli.Context) error {
			return setActive(c, svc, false)
		},
	}
}

// resumeCmd creates the resume command.
func resumeCmd(svc *ops.Services) *cli.Command {
	return &cli.Command{
		Name:  "resume",
		Usage: "Resume capture",
		Action: func(c *cli.Context) error {
			return setActive(c, svc, true)
		},
	}
}

func setActive(c *cli.Context, svc *ops.Services, active bool) error {
	output, err := ops.ToggleCapture(c.Context, svc, ops.ToggleCaptureInput{Active: &active})
	if err != nil {
		return outputError(err)
	}
	return outputJSON(output)
}

// captureCmd creates the capture command.
func captureCmd(svc *ops.Services) *cli.Command {
	return &cli.Command{
		Name:  "capture",
		Usage: "Take one capture now",
		Action: func(c *cli.Context) error {
			output, err := ops.CaptureNow(c.Context, svc)
			if err != nil {
				return outputError(err)
			}
			return outputJSON(output)
		},
	}
}

// timelineCmd creates the timeline command.
func timelineCmd(svc *ops.Services) *cli.Command {
	return &cli.Command{
		Name:  "timeline",
		Usage: "Show captures for one day or one hour",
		Flags: []cli.Flag{
			&cli.StringFlag{Name: "date", Aliases: []string{"d"}, Usage: "Day as YYYY-MM-DD (default today)"},
			&cli.StringFlag{Name: "granularity", Aliases: []string{"g"}, Value: ops.GranularityDay, Usage: "day|hour"},
			&cli.IntFlag{Name: "hour", Usage: "Hour of day for --granularity=hour (default current hour)"},
			&cli.StringFlag{Name: "app", Aliases: []string{"a"}, Usage: "Comma-separated application names"},
			&cli.IntFlag{Name: "limit", Aliases: []string{"l"}, Usage: "Maximum captures read"},
		},
		Action: func(c *cli.Context) error {
			input := ops.TimelineInput{
				Date:        c.String("date"),
				Granularity: c.String("granularity"),
				Apps:        parseList(c.String("app")),
				Limit:       c.Int("limit"),
			}
			if c.IsSet("hour") {
				hour := c.Int("hour")
				input.Hour = &hour
			}

			output, err := ops.Timeline(c.Context, svc, input)
			if err != nil {
				return outputError(err)
			}
			return outputJSON(output)
		},
	}
}

// searchCmd creates the search command.
func searchCmd(svc *ops.Services) *cli.Command {
	return &cli.Command{
		Name:      "search",
		Usage:     "Search captured screen text",
		ArgsUsage: "<query>",
		Flags: []cli.Flag{
			&cli.StringFlag{Name: "method", Aliases: []string{"m"}, Usage: "keyword|semantic|hybrid (default from settings)"},
			&cli.StringFlag{Name: "sort", Aliases: []string{"s"}, Value: "relevance", Usage: "relevance|newest|oldest"},
			&cli.StringFlag{Name: "from", Usage: "First day as YYYY-MM-DD"},
			&cli.StringFlag{Name: "to", Usage: "Last day as YYYY-MM-DD"},
			&cli.StringFlag{Name: "app", Aliases: []string{"a"}, Usage: "Comma-separated application names"},
			&cli.IntFlag{Name: "limit", Aliases: []string{"l"}, Usage: "Maximum results"},
		},
		Action: func(c *cli.Context) error {
			query := strings.Join(c.Args().Slice(), " ")
			if strings.TrimSpace(query) == "" {
				return outputError(errors.NewInvalidRequest("query is required"))
			}

			output, err := ops.Search(c.Context, svc, ops.SearchInput{
				Query:  query,
				Method: c.String("method"),
				Sort:   c.String("sort"),
				From:   c.String("from"),
				To:     c.String("to"),
				Apps:   parseList(c.String("app")),
				Limit:  c.Int("limit"),
			})
			if err != nil {
				return outputError(err)
			}
			return outputJSON(output)
		},
	}
}

// entryCmd creates the entry command group.
func entryCmd(svc *ops.Services) *cli.Command {
	return &cli.Command{
		Name:  "entry",
		Usage: "Show or delete one capture",
		Subcommands: []*cli.Command{
			{
				Name:      "show",
				Usage:     "Show a capture with its full text",
				ArgsUsage: "<id>",
				Action: func(c *cli.Context) error {
					output, err := ops.GetEntry(c.Context, svc, c.Args().First())
					if err != nil {
						return outputError(err)
					}
					return outputJSON(output)
				},
			},
			{
				Name:      "delete",
				Usage:     "Delete a capture and its screenshot",
				ArgsUsage: "<id>",
				Action: func(c *cli.Context) error {
					output, err := ops.DeleteEntry(c.Context, svc, c.Args().First())
					if err != nil {
						return outputError(err)
					}
					return outputJSON(output)
				},
			},
		},
	}
}

// rulesCmd creates the rules command group.
func rulesCmd(svc *ops.Services) *cli.Command {
	return &cli.Command{
		Name:  "rules",
		Usage: "Manage exclusion rules",
		Subcommands: []*cli.Command{
			{
				Name:  "list",
				Usage: "List exclusion rules",
				Action: func(c *cli.Context) error {
					output, err := ops.ListRules(c.Context, svc)
					if err != nil {
						return outputError(err)
					}
					return outputJSON(output)
				},
			},
			{
				Name:      "add",
				Usage:     "Add an exclusion rule",
				ArgsUsage: "<value>",
				Flags: []cli.Flag{
					&cli.StringFlag{Name: "type", Aliases: []string{"t"}, Required: true, Usage: "application|windowTitle|url|pattern"},
					&cli.StringFlag{Name: "description", Aliases: []string{"d"}, Usage: "Why the rule exists"},
				},
				Action: func(c *cli.Context) error {
					output, err := ops.AddRule(c.Context, svc, ops.AddRuleInput{
						Type:        c.String("type"),
						Value:       strings.Join(c.Args().Slice(), " "),
						Description: c.String("description"),
					})
					if err != nil {
						return outputError(err)
					}
					return outputJSON(output)
				},
			},
			{
				Name:      "delete",
				Usage:     "Delete an exclusion rule",
				ArgsUsage: "<id>",
				Action: func(c *cli.Context) error {
					output, err := ops.DeleteRule(c.Context, svc, c.Args().First())
					if err != nil {
						return outputError(err)
					}
					return outputJSON(output)
				},
			},
			{
				Name:  "export",
				Usage: "Write all rules to a YAML file",
				Flags: []cli.Flag{
					&cli.StringFlag{Name: "path", Usage: "Output file (default: ~/.eidon/exports/rules-<timestamp>.yaml)"},
				},
				Action: func(c *cli.Context) error {
					output, err := ops.ExportRules(c.Context, svc, ops.ExportRulesInput{Path: c.String("path")})
					if err != nil {
						return outputError(err)
					}
					return outputJSON(output)
				},
			},
			{
				Name:  "import",
				Usage: "Import rules from a YAML file",
				Flags: []cli.Flag{
					&cli.StringFlag{Name: "path", Required: true, Usage: "Input file"},
					&cli.StringFlag{Name: "mode", Aliases: []string{"m"}, Value: ops.ImportModeError, Usage: "Duplicate handling: error|merge|replace"},
				},
				Action: func(c *cli.Context) error {
					output, err := ops.ImportRules(c.Context, svc, ops.ImportRulesInput{
						Path: c.String("path"),
						Mode: c.String("mode"),
					})
					if err != nil {
						return outputError(err)
					}
					return outputJSON(output)
				},
			},
		},
	}
}

// archivesCmd creates the archives command group.
func archivesCmd(svc *ops.Services) *cli.Command {
	return &cli.Command{
		Name:  "archives",
		Usage: "Manage monthly archives",
		Subcommands: []*cli.Command{
			{
				Name:  "list",
				Usage: "List archives, newest first",
				Flags: []cli.Flag{
					&cli.IntFlag{Name: "limit", Aliases: []string{"l"}, Value: ops.DefaultArchiveLimit, Usage: "Maximum archives"},
				},
				Action: func(c *cli.Context) error {
					output, err := ops.ListArchives(c.Context, svc, ops.ListArchivesInput{Limit: c.Int("limit")})
					if err != nil {
						return outputError(err)
					}
					return outputJSON(output)
				},
			},
			{
				Name:      "compress",
				Usage:     "Compress an archive's screenshots",
				ArgsUsage: "<id>",
				Action: func(c *cli.Context) error {
					output, err := ops.CompressArchive(c.Context, svc, c.Args().First())
					if err != nil {
						return outputError(err)
					}
					return outputJSON(output)
				},
			},
			{
				Name:      "delete",
				Usage:     "Delete an archive and all of its captures",
				ArgsUsage: "<id>",
				Action: func(c *cli.Context) error {
					output, err := ops.DeleteArchive(c.Context, svc, c.Args().First())
					if err != nil {
						return outputError(err)
					}
					return outputJSON(output)
				},
			},
		},
	}
}

// statsCmd creates the stats command.
func statsCmd(svc *ops.Services) *cli.Command {
	return &cli.Command{
		Name:  "stats",
		Usage: "Show storage usage",
		Flags: []cli.Flag{
			&cli.BoolFlag{Name: "human", Aliases: []string{"H"}, Usage: "Print a short summary instead of JSON"},
		},
		Action: func(c *cli.Context) error {
			output, err := ops.StorageStats(c.Context, svc)
			if err != nil {
				return outputError(err)
			}
			if c.Bool("human") {
				fmt.Fprintf(c.App.Writer, "%s of %s used (%.1f%%), %s captures\n",
					output.Used, output.Max, output.UsedPercent, humanize.Comma(int64(output.CaptureCount)))
				return nil
			}
			return outputJSON(output)
		},
	}
}

// cleanupCmd creates the cleanup command.
func cleanupCmd(svc *ops.Services) *cli.Command {
	return &cli.Command{
		Name:  "cleanup",
		Usage: "Run the retention and archival sweeps now",
		Action: func(c *cli.Context) error {
			output, err := ops.RunCleanup(c.Context, svc)
			if err != nil {
				return outputError(err)
			}
			return outputJSON(output)
		},
	}
}

// settingsCmd creates the settings command group.
func settingsCmd(svc *ops.Services) *cli.Command {
	return &cli.Command{
		Name:  "settings",
		Usage: "Show or change settings",
		Subcommands: []*cli.Command{
			{
				Name:  "get",
				Usage: "Print the current settings",
				Action: func(c *cli.Context) error {
					output, err := ops.GetSettings(c.Context, svc)
					if err != nil {
						return outputError(err)
					}
					return outputJSON(output)
				},
			},
			{
				Name:      "set",
				Usage:     "Apply a partial settings document (argument or stdin)",
				ArgsUsage: `['{"capture":{"interval_seconds":10}}']`,
				Action: func(c *cli.Context) error {
					patch := c.Args().First()
					if patch == "" {
						if !stdinHasData() {
							return outputError(errors.NewInvalidRequest("settings JSON must be given as an argument or piped via stdin"))
						}
						text, err := readStdin(maxStdinBytes)
						if err != nil {
							return outputError(errors.NewInvalidRequest(err.Error()))
						}
						patch = text
					}

					output, err := ops.UpdateSettings(c.Context, svc, ops.UpdateSettingsInput{Patch: json.RawMessage(patch)})
					if err != nil {
						return outputError(err)
					}
					return outputJSON(output)
				},
			},
		},
	}
}

// Helper functions

// outputJSON marshals result to stdout as JSON.
func outputJSON(v any) error {
	enc := json.NewEncoder(os.Stdout)
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}

// outputError formats error for CLI.
func outputError(err error) error {
	if eErr, ok := errors.As(err); ok {
		return cli.Exit(fmt.Sprintf("[%s] %s", eErr.Code, eErr.Message), 1)
	}
	return cli.Exit(err.Error(), 1)
}

// stdinHasData returns true if stdin has piped data (not a terminal).
func stdinHasData() bool {
	stat, err := os.Stdin.Stat()
	if err != nil {
		return false
	}
	return (stat.Mode() & os.ModeCharDevice) == 0
}

// readStdin reads at most limit bytes from stdin.
func readStdin(limit int64) (string, error) {
	data, err := io.ReadAll(io.LimitReader(os.Stdin, limit+1))
	if err != nil {
		return "", err
	}
	if int64(len(data)) > limit {
		return "", fmt.Errorf("input exceeds %d bytes", limit)
	}
	return strings.TrimSpace(string(data)), nil
}

// parseList splits a comma-separated string into a slice of trimmed values.
func parseList(s string) []string {
	if s == "" {
		return nil
	}
	parts := strings.Split(s, ",")
	out := make([]string, 0, len(parts))
	for _, p := range parts {
		v := strings.TrimSpace(p)
		if v != "" {
			out = append(out, v)
		}
	}
	return out
}
