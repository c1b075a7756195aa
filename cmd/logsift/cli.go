package main

import (
	"bufio"
	stderrors "errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"os"
	"strings"

	json "github.com/goccy/go-json"
	"github.com/urfave/cli/v2"

	"github.com/hpungsan/logsift/internal/classify"
	"github.com/hpungsan/logsift/internal/config"
	"github.com/hpungsan/logsift/internal/errors"
	"github.com/hpungsan/logsift/internal/event"
	"github.com/hpungsan/logsift/internal/logger"
	"github.com/hpungsan/logsift/internal/mcp"
	"github.com/hpungsan/logsift/internal/ops"
	"github.com/hpungsan/logsift/internal/rules"
	"github.com/hpungsan/logsift/internal/store"
)

// newCLIApp creates the CLI application with all commands.
func newCLIApp() *cli.App {
	app := &cli.App{
		Name:    "logsift",
		Usage:   "Caddy access-log sifter: keeps the requests that matter, per site, in SQLite",
		Version: Version,
		Flags: []cli.Flag{
			&cli.StringFlag{Name: "config", Aliases: []string{"c"}, Value: "config.json", EnvVars: []string{"LOGSIFT_CONFIG"}, Usage: "Config file path"},
		},
		Commands: []*cli.Command{
			serveCmd(),
			classifyCmd(),
			countCmd(),
			statsCmd(),
			snapshotCmd(),
			rotateCmd(),
			reloadCmd(),
			filesCmd(),
			healthCmd(),
		},
	}
	// Disable default exit error handler to allow proper error return in tests
	app.ExitErrHandler = func(_ *cli.Context, _ error) {}
	return app
}

// adminFlag selects the admin API of a running service.
func adminFlag() cli.Flag {
	return &cli.StringFlag{
		Name:    "admin",
		Aliases: []string{"a"},
		EnvVars: []string{"LOGSIFT_ADMIN"},
		Usage:   "Admin API address (default: admin_addr from config)",
	}
}

// serveCmd creates the serve command.
func serveCmd() *cli.Command {
	return &cli.Command{
		Name:  "serve",
		Usage: "Run the ingest server, store engine, notifications and admin API",
		Flags: []cli.Flag{
			&cli.BoolFlag{Name: "mcp", Usage: "Also serve MCP tools over stdio (logs go to stderr)"},
		},
		Action: func(c *cli.Context) error {
			cfg, err := loadConfig(c)
			if err != nil {
				return outputError(err)
			}

			mcpMode := c.Bool("mcp")
			if mcpMode {
				if unknown := mcp.ValidateDisabledTools(cfg.DisabledTools); len(unknown) > 0 {
					fmt.Fprintf(os.Stderr, "warning: unknown disabled_tools ignored: %s\n", strings.Join(unknown, ", "))
				}
				logger.InitWriter(cfg, os.Stderr)
			} else {
				logger.Init(cfg)
			}

			if err := runServe(c.Context, cfg, mcpMode); err != nil {
				return outputError(err)
			}
			return nil
		},
	}
}

// classifyResult is one output line of the classify command.
type classifyResult struct {
	Line       int    `json:"line"`
	Origin     string `json:"origin,omitempty"`
	Method     string `json:"method,omitempty"`
	URI        string `json:"uri,omitempty"`
	Importance string `json:"importance,omitempty"`
	Preview    string `json:"preview,omitempty"`
	Error      string `json:"error,omitempty"`
}

// classifyCmd creates the classify command.
func classifyCmd() *cli.Command {
	return &cli.Command{
		Name:  "classify",
		Usage: "Classify JSON access-log lines from stdin against the rule file (dry run)",
		Flags: []cli.Flag{
			&cli.StringFlag{Name: "rules", Aliases: []string{"r"}, Usage: "Rule file (default: rules_path from config)"},
			&cli.BoolFlag{Name: "kept-only", Usage: "Only print events that would be stored"},
		},
		Action: func(c *cli.Context) error {
			path := c.String("rules")
			if path == "" {
				cfg, err := loadConfig(c)
				if err != nil {
					return outputError(err)
				}
				path = cfg.RulesPath
			}

			// A missing rule file means every origin uses the defaults.
			reg := rules.NewRegistry(path)
			if _, err := os.Stat(path); err == nil {
				if err := reg.Reload(); err != nil {
					return outputError(err)
				}
			}

			if err := classifyStream(c.App.Reader, c.App.Writer, reg, c.Bool("kept-only")); err != nil {
				return outputError(errors.NewInternal(err))
			}
			return nil
		},
	}
}

// classifyStream writes one classifyResult per non-empty input line.
func classifyStream(in io.Reader, out io.Writer, reg *rules.Registry, keptOnly bool) error {
	sc := bufio.NewScanner(in)
	sc.Buffer(make([]byte, 64*1024), 1<<20)
	enc := json.NewEncoder(out)

	n := 0
	for sc.Scan() {
		n++
		line := strings.TrimSpace(sc.Text())
		if line == "" {
			continue
		}

		res := classifyResult{Line: n}
		ev, err := event.Parse([]byte(line))
		if err != nil {
			res.Error = err.Error()
		} else {
			v := classify.Classify(ev, reg.Get(ev.Origin))
			if keptOnly && !v.Keep() {
				continue
			}
			res.Origin = ev.Origin
			res.Method = ev.Method
			res.URI = ev.URI
			res.Importance = v.Importance.String()
			res.Preview = v.Preview
		}
		if err := enc.Encode(res); err != nil {
			return err
		}
	}
	return sc.Err()
}

// countCmd creates the count command.
func countCmd() *cli.Command {
	return &cli.Command{
		Name:      "count",
		Usage:     "Print the number of stored requests in a database file",
		ArgsUsage: "<file.db>",
		Action: func(c *cli.Context) error {
			if c.NArg() != 1 {
				return outputError(errors.NewInvalidRequest("exactly one database file is required"))
			}
			path := c.Args().First()
			if _, err := os.Stat(path); err != nil {
				return outputError(errors.NewNotFound(path))
			}

			n, err := store.CountRows(path)
			if err != nil {
				return outputError(errors.NewStorage(path, "count", err))
			}
			return outputJSON(c.App.Writer, map[string]any{"path": path, "rows": n})
		},
	}
}

// statsCmd creates the stats command.
func statsCmd() *cli.Command {
	return &cli.Command{
		Name:  "stats",
		Usage: "Row counts of every open site database of a running service",
		Flags: []cli.Flag{
			adminFlag(),
			&cli.BoolFlag{Name: "strict", Usage: "Wait for queued writes before counting"},
		},
		Action: func(c *cli.Context) error {
			q := url.Values{}
			if c.Bool("strict") {
				q.Set("strict", "true")
			}
			var out ops.StatsOutput
			return adminCall(c, http.MethodGet, "/sites", q, &out)
		},
	}
}

// snapshotCmd creates the snapshot command.
func snapshotCmd() *cli.Command {
	return &cli.Command{
		Name:      "snapshot",
		Usage:     "Copy a site's live database and deliver it",
		ArgsUsage: "<origin>",
		Flags:     []cli.Flag{adminFlag()},
		Action: func(c *cli.Context) error {
			origin, err := originArg(c)
			if err != nil {
				return outputError(err)
			}
			var out ops.QueuedOutput
			return adminCall(c, http.MethodPost, "/sites/"+url.PathEscape(origin)+"/snapshot", nil, &out)
		},
	}
}

// rotateCmd creates the rotate command.
func rotateCmd() *cli.Command {
	return &cli.Command{
		Name:      "rotate",
		Usage:     "Archive a site's database now and deliver it",
		ArgsUsage: "<origin>",
		Flags:     []cli.Flag{adminFlag()},
		Action: func(c *cli.Context) error {
			origin, err := originArg(c)
			if err != nil {
				return outputError(err)
			}
			var out ops.QueuedOutput
			return adminCall(c, http.MethodPost, "/sites/"+url.PathEscape(origin)+"/rotate", nil, &out)
		},
	}
}

// reloadCmd creates the reload command.
func reloadCmd() *cli.Command {
	return &cli.Command{
		Name:  "reload",
		Usage: "Re-read the rule file of a running service",
		Flags: []cli.Flag{adminFlag()},
		Action: func(c *cli.Context) error {
			var out ops.ReloadOutput
			return adminCall(c, http.MethodPost, "/rules/reload", nil, &out)
		},
	}
}

// filesCmd creates the files command.
func filesCmd() *cli.Command {
	return &cli.Command{
		Name:  "files",
		Usage: "List database files in the data directory of a running service",
		Flags: []cli.Flag{
			adminFlag(),
			&cli.StringFlag{Name: "origin", Aliases: []string{"o"}, Usage: "Only list files of this site"},
			&cli.BoolFlag{Name: "counts", Usage: "Include row counts"},
		},
		Action: func(c *cli.Context) error {
			q := url.Values{}
			if o := c.String("origin"); o != "" {
				q.Set("origin", o)
			}
			if c.Bool("counts") {
				q.Set("counts", "true")
			}
			var out ops.FilesOutput
			return adminCall(c, http.MethodGet, "/files", q, &out)
		},
	}
}

// healthCmd creates the health command.
func healthCmd() *cli.Command {
	return &cli.Command{
		Name:  "health",
		Usage: "Show status of a running service",
		Flags: []cli.Flag{adminFlag()},
		Action: func(c *cli.Context) error {
			var out ops.HealthOutput
			return adminCall(c, http.MethodGet, "/health", nil, &out)
		},
	}
}

// Helper functions

// loadConfig reads the file named by --config.
func loadConfig(c *cli.Context) (*config.Config, error) {
	cfg, err := config.LoadFile(c.String("config"))
	if err != nil {
		return nil, errors.NewInvalidRequest(fmt.Sprintf("config: %v", err))
	}
	return cfg, nil
}

// adminCall performs one admin API request and prints the decoded result.
func adminCall(c *cli.Context, method, path string, query url.Values, out any) error {
	addr := c.String("admin")
	if addr == "" {
		cfg, err := loadConfig(c)
		if err != nil {
			return outputError(err)
		}
		addr = cfg.AdminAddr
	}
	if addr == "" {
		return outputError(errors.NewInvalidRequest("admin API is disabled; pass --admin"))
	}

	if err := newAdminClient(addr).do(c.Context, method, path, query, out); err != nil {
		return outputError(err)
	}
	return outputJSON(c.App.Writer, out)
}

func originArg(c *cli.Context) (string, error) {
	if c.NArg() != 1 {
		return "", errors.NewInvalidRequest("exactly one origin is required")
	}
	return ops.ValidateOrigin(c.Args().First())
}

// outputJSON writes v to w as indented JSON.
func outputJSON(w io.Writer, v any) error {
	b, err := json.MarshalIndent(v, "", "  ")
	if err != nil {
		return err
	}
	_, err = fmt.Fprintln(w, string(b))
	return err
}

// outputError formats error for CLI.
func outputError(err error) error {
	var lErr *errors.LogsiftError
	if stderrors.As(err, &lErr) {
		return cli.Exit(fmt.Sprintf("[%s] %s", lErr.Code, lErr.Message), exitCode(lErr.Status))
	}
	return cli.Exit(err.Error(), 1)
}

// exitCode maps HTTP-style statuses onto shell exit codes: 2 for caller
// mistakes, 1 for everything else.
func exitCode(status int) int {
	if status >= 400 && status < 500 {
		return 2
	}
	return 1
}
