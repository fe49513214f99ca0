package main

import (
	"context"
	"fmt"
	"io"
	"os"
	"os/signal"
	"strings"
	"syscall"

	"github.com/bytedance/sonic"
	"github.com/urfave/cli/v2"
	"go.uber.org/zap"

	"github.com/vvanghelue/surfpack/internal/bundler"
	"github.com/vvanghelue/surfpack/internal/diagnostics"
	"github.com/vvanghelue/surfpack/internal/infrastructure/config"
	"github.com/vvanghelue/surfpack/internal/infrastructure/logging"
	"github.com/vvanghelue/surfpack/internal/infrastructure/server"
	"github.com/vvanghelue/surfpack/internal/modules"
	"github.com/vvanghelue/surfpack/internal/project"
	"github.com/vvanghelue/surfpack/internal/runner"
	"github.com/vvanghelue/surfpack/internal/sandbox"
	"github.com/vvanghelue/surfpack/internal/vfs"
)

// newCLIApp creates the CLI application with all commands
func newCLIApp(stdout, stderr io.Writer) *cli.App {
	app := &cli.App{
		Name:      "surfpack",
		Usage:     "Build and preview browser projects in a sandbox",
		Version:   Version,
		Writer:    stdout,
		ErrWriter: stderr,
		Flags: []cli.Flag{
			&cli.StringFlag{Name: "log-level", Value: "warn", Usage: "debug|info|warn|error", EnvVars: []string{"SURFPACK_LOG_LEVEL"}},
		},
		Commands: []*cli.Command{
			serveCmd(),
			sandboxCmd(),
			buildCmd(),
			runCmd(),
		},
	}
	// Errors are returned to main instead of exiting inside Run
	app.ExitErrHandler = func(_ *cli.Context, _ error) {}
	return app
}

// serveCmd creates the serve command
func serveCmd() *cli.Command {
	return &cli.Command{
		Name:  "serve",
		Usage: "Run the preview API server (configured by SURFPACK_* variables)",
		Flags: []cli.Flag{
			&cli.StringFlag{Name: "host", Usage: "Override SURFPACK_HOST"},
			&cli.StringFlag{Name: "port", Aliases: []string{"p"}, Usage: "Override SURFPACK_PORT"},
			&cli.StringFlag{Name: "remote-sandbox", Usage: "Override SURFPACK_SANDBOX_REMOTE_URL"},
		},
		Action: func(c *cli.Context) error {
			cfg, err := config.Load()
			if err != nil {
				return outputError(err)
			}
			if host := c.String("host"); host != "" {
				cfg.Server.Host = host
			}
			if port := c.String("port"); port != "" {
				cfg.Server.Port = port
			}
			if remote := c.String("remote-sandbox"); remote != "" {
				cfg.Sandbox.RemoteURL = remote
			}
			return runServer(c.Context, cfg, server.ModePreview)
		},
	}
}

// sandboxCmd creates the sandbox command
func sandboxCmd() *cli.Command {
	return &cli.Command{
		Name:  "sandbox",
		Usage: "Host sandboxes for remote preview servers",
		Flags: []cli.Flag{
			&cli.StringFlag{Name: "listen", Aliases: []string{"l"}, Value: "0.0.0.0:8001", Usage: "Listen address (host:port)"},
		},
		Action: func(c *cli.Context) error {
			cfg, err := config.Load()
			if err != nil {
				return outputError(err)
			}
			host, port, ok := strings.Cut(c.String("listen"), ":")
			if !ok || port == "" {
				return outputError(fmt.Errorf("--listen must be host:port, got %q", c.String("listen")))
			}
			cfg.Server.Host, cfg.Server.Port = host, port
			cfg.Sandbox.RemoteURL = ""
			return runServer(c.Context, cfg, server.ModeSandbox)
		},
	}
}

func runServer(parent context.Context, cfg *config.Config, mode server.Mode) error {
	srv, err := server.NewServer(cfg, mode)
	if err != nil {
		return outputError(err)
	}
	ctx, stop := signal.NotifyContext(parent, os.Interrupt, syscall.SIGTERM)
	defer stop()
	if err := srv.Run(ctx); err != nil {
		return outputError(err)
	}
	return nil
}

// projectFlags are shared by build and run
func projectFlags() []cli.Flag {
	return []cli.Flag{
		&cli.StringFlag{Name: "entry", Aliases: []string{"e"}, Usage: "Entry file (defaults to the settings file, package.json main or index.html)"},
		&cli.StringSliceFlag{Name: "ignore", Usage: "Extra ignore glob (repeatable)"},
		&cli.StringFlag{Name: "target", Value: "es2020", Usage: "Language target"},
		&cli.StringFlag{Name: "jsx-import-source", Usage: "Automatic JSX runtime package"},
	}
}

type loadedProject struct {
	*project.Project
	Entry  bundler.EntryResolution
	logger *zap.Logger
}

func loadProject(c *cli.Context) (*loadedProject, error) {
	if c.NArg() != 1 {
		return nil, fmt.Errorf("expected exactly one project directory")
	}
	logger, err := logging.New(logging.Config{Level: c.String("log-level")})
	if err != nil {
		return nil, err
	}

	proj, err := project.Load(c.Context, c.Args().First(), project.Options{
		Ignore: c.StringSlice("ignore"),
		Logger: logger.Component("project"),
	})
	if err != nil {
		return nil, err
	}
	explicit := c.String("entry")
	if explicit == "" {
		explicit = proj.Settings.Entry
	}
	entry, err := bundler.ResolveEntry(vfs.NewFileMap(proj.Files), explicit)
	if err != nil {
		return nil, err
	}
	return &loadedProject{Project: proj, Entry: entry, logger: logger.Logger}, nil
}

func bundlerOptions(c *cli.Context, logger *zap.Logger) bundler.Options {
	return bundler.Options{
		Target:          c.String("target"),
		JSXImportSource: c.String("jsx-import-source"),
		Logger:          logger,
	}
}

// BuildSummary is printed by the build command
type BuildSummary struct {
	Entry       string            `json:"entry"`
	EntrySource string            `json:"entry_source"`
	Files       int               `json:"files"`
	Skipped     []project.Skipped `json:"skipped,omitempty"`
	Fingerprint string            `json:"fingerprint"`
	Bytes       int               `json:"bytes"`
	CSS         int               `json:"css_chunks"`
	Warnings    []string          `json:"warnings,omitempty"`
	DurationMs  int64             `json:"duration_ms"`
	Output      string            `json:"output,omitempty"`
}

// buildCmd creates the build command
func buildCmd() *cli.Command {
	return &cli.Command{
		Name:      "build",
		Usage:     "Bundle a project directory and print a summary",
		ArgsUsage: "<dir>",
		Flags: append(projectFlags(),
			&cli.StringFlag{Name: "out", Aliases: []string{"o"}, Usage: "Write the bundle to this file (styles go to <out>.css)"},
		),
		Action: func(c *cli.Context) error {
			proj, err := loadProject(c)
			if err != nil {
				return outputError(err)
			}
			orch := bundler.NewOrchestrator(nil, bundlerOptions(c, proj.logger))
			bundle, err := orch.Build(c.Context, proj.Files, proj.Entry.Path)
			if err != nil {
				return outputError(err)
			}

			summary := BuildSummary{
				Entry:       bundle.Entry,
				EntrySource: string(proj.Entry.Source),
				Files:       len(proj.Files),
				Skipped:     proj.Skipped,
				Fingerprint: bundle.Fingerprint,
				Bytes:       len(bundle.Code),
				CSS:         len(bundle.CSS),
				Warnings:    bundle.Warnings,
				DurationMs:  bundle.Duration.Milliseconds(),
			}
			if out := c.String("out"); out != "" {
				if err := os.WriteFile(out, []byte(bundle.Code), 0o644); err != nil {
					return outputError(err)
				}
				if len(bundle.CSS) > 0 {
					css := strings.Join(bundle.CSS, "\n")
					if err := os.WriteFile(out+".css", []byte(css), 0o644); err != nil {
						return outputError(err)
					}
				}
				summary.Output = out
			}
			return outputJSON(c.App.Writer, summary)
		},
	}
}

// RunReport is printed by run --json
type RunReport struct {
	Entry       string                   `json:"entry"`
	Fingerprint string                   `json:"fingerprint"`
	HTML        string                   `json:"html"`
	Console     []sandbox.LogEntry       `json:"console,omitempty"`
	Diagnostics []diagnostics.Diagnostic `json:"diagnostics,omitempty"`
}

// runCmd creates the run command
func runCmd() *cli.Command {
	return &cli.Command{
		Name:      "run",
		Usage:     "Build a project, run it in a sandbox and print the document",
		ArgsUsage: "<dir>",
		Flags: append(projectFlags(),
			&cli.StringFlag{Name: "cdn", Usage: "Base URL bare imports are rewritten to (defaults to the settings file, then " + sandbox.DefaultCDN + ")"},
			&cli.StringFlag{Name: "select", Aliases: []string{"s"}, Usage: "Print the text of this CSS selector instead of the document"},
			&cli.BoolFlag{Name: "json", Usage: "Print a JSON report"},
		),
		Action: func(c *cli.Context) error {
			proj, err := loadProject(c)
			if err != nil {
				return outputError(err)
			}

			cdn := c.String("cdn")
			if cdn == "" {
				cdn = proj.Settings.CDN
			}
			if cdn == "" {
				cdn = sandbox.DefaultCDN
			}

			fetcher := modules.NewFetcher(modules.Options{Logger: proj.logger})
			w, err := sandbox.NewWindow(sandbox.DefaultConfig(),
				sandbox.WithFetcher(fetcher),
				sandbox.WithLogger(proj.logger))
			if err != nil {
				return outputError(err)
			}
			defer w.Close()

			result, err := runner.StandaloneRun(c.Context, w, proj.Files, proj.Entry.Path, runner.Options{
				Bundler: bundlerOptions(c, proj.logger),
				CDN:     cdn,
				Logger:  proj.logger,
			})
			if err != nil {
				return outputError(err)
			}

			doc := w.Document()
			if c.Bool("json") {
				if err := outputJSON(c.App.Writer, RunReport{
					Entry:       result.Bundle.Entry,
					Fingerprint: result.Installed.Fingerprint,
					HTML:        doc.HTML(),
					Console:     w.Console(),
					Diagnostics: result.Diagnostics,
				}); err != nil {
					return err
				}
			} else if sel := c.String("select"); sel != "" {
				fmt.Fprintln(c.App.Writer, doc.Text(sel))
			} else {
				fmt.Fprintln(c.App.Writer, doc.HTML())
			}

			if n := len(result.Diagnostics); n > 0 {
				for _, d := range result.Diagnostics {
					fmt.Fprintf(c.App.ErrWriter, "%s: %s\n", d.Title, d.Message)
				}
				return cli.Exit(fmt.Sprintf("%d runtime error(s)", n), 1)
			}
			return nil
		},
	}
}

// outputJSON writes v as indented JSON
func outputJSON(w io.Writer, v any) error {
	data, err := sonic.ConfigStd.MarshalIndent(v, "", "  ")
	if err != nil {
		return outputError(err)
	}
	_, err = fmt.Fprintln(w, string(data))
	return err
}

// outputError formats err for the CLI
func outputError(err error) error {
	return cli.Exit(err.Error(), 1)
}
