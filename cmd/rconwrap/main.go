package main

import (
	"context"
	"fmt"
	"log"
	"net/http"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/guseggert/rconwrap/internal/config"
	"github.com/guseggert/rconwrap/internal/logger"
	"github.com/guseggert/rconwrap/logsink"
	"github.com/guseggert/rconwrap/rcon"
	"github.com/guseggert/rconwrap/supervisor"
	"github.com/guseggert/rconwrap/wrapper"
	"github.com/urfave/cli/v2"
)

const dialTimeout = 10 * time.Second

func main() {
	if err := newApp().Run(os.Args); err != nil {
		log.Fatal(err)
	}
}

// newApp builds the CLI. Operator-facing output goes to the App's Writer and input is
// read from its Reader.
func newApp() *cli.App {
	defaults := config.Default()
	return &cli.App{
		Name:      "rconwrap",
		Usage:     "run a Rust dedicated server and drive its console over WebRcon",
		UsageText: "rconwrap [flags] [--] <startup command...>",
		Flags: []cli.Flag{
			&cli.StringFlag{
				Name:    "rcon-host",
				Usage:   "The WebRcon host to connect to.",
				Value:   defaults.RCON.Host,
				EnvVars: []string{"RCON_IP"},
			},
			&cli.IntFlag{
				Name:    "rcon-port",
				Usage:   "The WebRcon port to connect to.",
				Value:   defaults.RCON.Port,
				EnvVars: []string{"RCON_PORT"},
			},
			&cli.StringFlag{
				Name:    "rcon-pass",
				Usage:   "The WebRcon password.",
				Value:   defaults.RCON.Password,
				EnvVars: []string{"RCON_PASS"},
			},
			&cli.StringFlag{
				Name:    "rcon-name",
				Usage:   "The name sent with every RCON command.",
				Value:   defaults.RCON.Name,
				EnvVars: []string{"RCON_NAME"},
			},
			&cli.StringFlag{
				Name:    "console-log",
				Usage:   "Path of the raw console log. Truncated at startup.",
				Value:   defaults.ConsoleLog,
				EnvVars: []string{"WRAPPER_CONSOLE_LOG"},
			},
			&cli.StringFlag{
				Name:    "latest-log",
				Usage:   "Path of the curated RCON activity log. Truncated at startup.",
				Value:   defaults.LatestLog,
				EnvVars: []string{"WRAPPER_LATEST_LOG"},
			},
			&cli.DurationFlag{
				Name:    "error-retry",
				Usage:   "Delay before reconnecting after a failed or broken RCON connection.",
				Value:   defaults.ErrorRetryDelay,
				EnvVars: []string{"WRAPPER_ERROR_RETRY"},
			},
			&cli.DurationFlag{
				Name:    "close-retry",
				Usage:   "Delay before reconnecting after the server closed the RCON connection.",
				Value:   defaults.CloseRetryDelay,
				EnvVars: []string{"WRAPPER_CLOSE_RETRY"},
			},
			&cli.StringFlag{
				Name:    "filter-rules",
				Usage:   "YAML file overriding the console output filter rules. Defaults to rconwrap.yaml in the working directory or a parent, if present.",
				EnvVars: []string{"WRAPPER_FILTER_RULES"},
			},
			&cli.StringFlag{
				Name:    "log-level",
				Usage:   "Diagnostic log level. One of [debug,info,warn,error].",
				Value:   defaults.LogLevel,
				EnvVars: []string{"WRAPPER_LOG_LEVEL"},
			},
		},
		Action: func(cCtx *cli.Context) error {
			cfg := config.Config{
				RCON: rcon.Config{
					Host:     cCtx.String("rcon-host"),
					Port:     cCtx.Int("rcon-port"),
					Password: cCtx.String("rcon-pass"),
					Name:     cCtx.String("rcon-name"),
				},
				ConsoleLog:      cCtx.String("console-log"),
				LatestLog:       cCtx.String("latest-log"),
				ErrorRetryDelay: cCtx.Duration("error-retry"),
				CloseRetryDelay: cCtx.Duration("close-retry"),
				RulesFile:       cCtx.String("filter-rules"),
				LogLevel:        cCtx.String("log-level"),
			}

			l, err := logger.New(cfg.LogLevel)
			if err != nil {
				return cli.Exit(fmt.Sprintf("Error: %s", err), 1)
			}
			defer func() { _ = l.Sync() }()

			if err := cfg.Validate(); err != nil {
				return cli.Exit(fmt.Sprintf("Error: %s", err), 1)
			}
			rules, err := cfg.Rules()
			if err != nil {
				return cli.Exit(fmt.Sprintf("Error: %s", err), 1)
			}

			console := cCtx.App.Writer

			sink, err := logsink.Open(cfg.ConsoleLog, cfg.LatestLog, l)
			if err != nil {
				return cli.Exit(fmt.Sprintf("Error: %s", err), 1)
			}
			defer sink.Close()
			fmt.Fprintln(console, "Log file cleared.")

			commandLine := strings.Join(cCtx.Args().Slice(), " ")
			if commandLine == "" {
				return cli.Exit("Error: Please specify a startup command.", 1)
			}

			// Registered before the child starts so an early Ctrl-C is not lost.
			sigs := make(chan os.Signal, 2)
			signal.Notify(sigs, os.Interrupt, syscall.SIGTERM)
			defer signal.Stop(sigs)

			ctx, cancel := context.WithCancel(cCtx.Context)
			defer cancel()

			fmt.Fprintln(console, "Starting Rust...")
			proc, err := supervisor.Start(ctx, commandLine, l)
			if err != nil {
				return cli.Exit(fmt.Sprintf("Error: %s", err), 1)
			}
			// At most one SIGTERM, and none if the server already exited.
			defer func() {
				fmt.Fprintln(console, "Cleaning up...")
				proc.Terminate()
			}()

			client := rcon.NewClient(cfg.RCON, l,
				rcon.WithRetryDelays(cfg.ErrorRetryDelay, cfg.CloseRetryDelay),
				rcon.WithHTTPClient(&http.Client{Timeout: dialTimeout}),
			)
			w := wrapper.New(proc, sink, client,
				wrapper.WithLogger(l),
				wrapper.WithConsole(console),
				wrapper.WithInput(cCtx.App.Reader),
				wrapper.WithRules(rules),
				wrapper.WithSignals(sigs),
			)

			code, err := w.Run(ctx)
			if err != nil {
				return fmt.Errorf("running wrapper: %w", err)
			}
			if code != 0 {
				return cli.Exit("", code)
			}
			return nil
		},
	}
}
