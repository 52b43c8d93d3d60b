package main

import (
	"fmt"
	"os"

	"github.com/dtnitsch/pdf-batch-parser/internal/distributed"
	"github.com/dtnitsch/pdf-batch-parser/internal/history"
	"github.com/dtnitsch/pdf-batch-parser/internal/ledger"
	"github.com/dtnitsch/pdf-batch-parser/internal/run"
	"github.com/dtnitsch/pdf-batch-parser/models"
	"github.com/urfave/cli/v2"
)

func configFlag() cli.Flag {
	return &cli.StringFlag{
		Name:    "config",
		Aliases: []string{"c"},
		Value:   models.DefaultConfigPath,
		Usage:   "path to the YAML config file",
		EnvVars: []string{"PBP_CONFIG"},
	}
}

func runFlags() []cli.Flag {
	return []cli.Flag{
		configFlag(),
		&cli.IntFlag{Name: "workers", Aliases: []string{"w"}, Usage: "number of local workers (default: CPUs minus reserved_cpus)"},
		&cli.IntFlag{Name: "batch-size", Usage: "files per worker batch"},
		&cli.IntFlag{Name: "retries", Usage: "attempts per file before it is recorded as failed"},
		&cli.StringFlag{Name: "output-dir", Aliases: []string{"o"}, Usage: "override output_dir"},
	}
}

func main() {
	app := &cli.App{
		Name:  "pbp",
		Usage: "Batch-parse PDF documents into structured per-document artifacts",
		Flags: []cli.Flag{
			&cli.BoolFlag{Name: "quiet", Aliases: []string{"q"}, Usage: "only log errors"},
			&cli.BoolFlag{Name: "verbose", Aliases: []string{"v"}, Usage: "log debug output"},
			&cli.StringFlag{Name: "metrics-addr", Usage: "serve Prometheus metrics on this address (e.g. :9090)"},
		},
		Commands: []*cli.Command{
			{
				Name:   "run",
				Usage:  "Process every input file under input_dir",
				Flags:  runFlags(),
				Action: run.NewRunAction(distributed.NewExecutor),
			},
			{
				Name:  "coordinator",
				Usage: "Serve the work list to remote workers over NATS",
				Flags: append(runFlags(),
					&cli.BoolFlag{Name: "embedded", Usage: "start an in-process NATS server"},
					&cli.StringFlag{Name: "listen", Usage: "host:port for the embedded NATS server"},
				),
				Action: distributed.CoordinatorAction,
			},
			{
				Name:  "worker",
				Usage: "Pull files from a coordinator and process them",
				Flags: []cli.Flag{
					configFlag(),
					&cli.StringFlag{Name: "nats-url", Usage: "NATS server URL", EnvVars: []string{"PBP_NATS_URL"}},
					&cli.StringFlag{Name: "id", Usage: "worker name reported with results (default: hostname-pid)"},
					&cli.IntFlag{Name: "retries", Usage: "attempts per file"},
					&cli.StringFlag{Name: "output-dir", Aliases: []string{"o"}, Usage: "override output_dir"},
				},
				Action: distributed.WorkerAction,
			},
			{
				Name:  "ledger",
				Usage: "Inspect or edit the error ledger",
				Flags: []cli.Flag{configFlag()},
				Subcommands: []*cli.Command{
					{
						Name:   "list",
						Usage:  "List files excluded from future runs",
						Action: ledger.ListAction,
					},
					{
						Name:      "remove",
						Usage:     "Remove files so the next run retries them",
						ArgsUsage: "<path>...",
						Action:    ledger.RemoveAction,
					},
					{
						Name:   "clear",
						Usage:  "Remove every entry",
						Action: ledger.ClearAction,
					},
				},
			},
			{
				Name:  "history",
				Usage: "List recorded runs",
				Flags: []cli.Flag{
					configFlag(),
					&cli.StringFlag{Name: "db", Usage: "path to the history database"},
					&cli.IntFlag{Name: "limit", Aliases: []string{"n"}, Value: 20, Usage: "number of runs to show"},
				},
				Action: history.ListAction,
				Subcommands: []*cli.Command{
					{
						Name:      "show",
						Usage:     "Show one run and its files (default: latest)",
						ArgsUsage: "[run-id]",
						Action:    history.ShowAction,
					},
				},
			},
			{
				Name:  "init",
				Usage: "Write a config file with every default filled in",
				Flags: []cli.Flag{
					configFlag(),
					&cli.BoolFlag{Name: "force", Aliases: []string{"f"}, Usage: "overwrite an existing config"},
				},
				Action: run.InitAction,
			},
			{
				Name:   "quickstart",
				Usage:  "Print a command reference",
				Action: run.QuickstartAction,
			},
			{
				Name:      "classify",
				Usage:     "Print the entity, year and output folder of each file",
				ArgsUsage: "<file>...",
				Flags:     []cli.Flag{configFlag()},
				Action:    run.ClassifyAction,
			},
		},
	}

	if err := app.Run(os.Args); err != nil {
		fmt.Fprintln(os.Stderr, "Error:", err)
		os.Exit(1)
	}
}
