package main

import (
	"fmt"
	"log"
	"os"
	"time"

	"github.com/urfave/cli/v2"
)

var (
	// Version information (set via ldflags during build)
	version = "dev"
	commit  = "unknown"
	date    = "unknown"
)

func main() {
	if err := newApp().Run(os.Args); err != nil {
		log.Fatal(err)
	}
}

func newApp() *cli.App {
	return &cli.App{
		Name:  "aptx",
		Usage: "Build, sign, submit and confirm Aptos transactions",
		Description: `A command-line client for the Aptos transaction pipeline.

Keys are read from --key (hex seed, hex expanded key or base58) or APTOS_PRIVATE_KEY.
Every command that prints a result accepts --json and --jq.`,
		Version: fmt.Sprintf("%s (commit: %s, built: %s)", version, commit, date),
		Commands: []*cli.Command{
			keygenCommand(),
			addressCommand(),
			balanceCommand(),
			preimageCommand(),
			simulateCommand(),
			transferCommand(),
			callCommand(),
			statusCommand(),
			awaitCommand(),
			gatewayCommands(),
			{
				Name:  "db",
				Usage: "Inspect recorded submissions",
				Subcommands: []*cli.Command{
					listSubmissionsCommand(),
					getSubmissionCommand(),
				},
			},
			{
				Name:  "nats",
				Usage: "Outcome event streaming commands",
				Subcommands: []*cli.Command{
					subscribeCommand(),
				},
			},
			{
				Name:  "temporal",
				Usage: "Durable confirmation workflows",
				Subcommands: []*cli.Command{
					startConfirmationCommand(),
					confirmationResultCommand(),
				},
			},
		},
		Flags: globalFlags(),
	}
}

func globalFlags() []cli.Flag {
	return []cli.Flag{
		&cli.StringFlag{
			Name:    "node-url",
			Usage:   "Aptos fullnode REST URL",
			EnvVars: []string{"APTOS_NODE_URL"},
			Value:   "http://localhost:8080/v1",
		},
		&cli.UintFlag{
			Name:    "chain-id",
			Usage:   "Chain id; 0 reads it from the node",
			EnvVars: []string{"APTOS_CHAIN_ID"},
		},
		&cli.Uint64Flag{
			Name:    "max-gas",
			Usage:   "Maximum gas units a transaction may use",
			EnvVars: []string{"TXN_MAX_GAS_AMOUNT"},
		},
		&cli.Uint64Flag{
			Name:    "gas-price",
			Usage:   "Gas unit price in octas",
			EnvVars: []string{"TXN_GAS_UNIT_PRICE"},
		},
		&cli.DurationFlag{
			Name:    "ttl",
			Usage:   "Transaction expiration from now",
			EnvVars: []string{"TXN_EXPIRATION_TTL"},
		},
		&cli.DurationFlag{
			Name:    "poll-interval",
			Usage:   "Delay between status lookups",
			EnvVars: []string{"TXN_POLL_INTERVAL"},
			Value:   2 * time.Second,
		},
		&cli.StringFlag{
			Name:    "database-url",
			Usage:   "Record submissions and outcomes in this database",
			EnvVars: []string{"DATABASE_URL"},
		},
		&cli.StringFlag{
			Name:    "nats-url",
			Usage:   "Publish outcomes to this NATS server",
			EnvVars: []string{"NATS_URL"},
		},
		&cli.StringFlag{
			Name:    "temporal-host",
			Usage:   "Temporal server address",
			EnvVars: []string{"TEMPORAL_HOST"},
			Value:   "localhost:7233",
		},
		&cli.StringFlag{
			Name:    "temporal-namespace",
			Usage:   "Temporal namespace",
			EnvVars: []string{"TEMPORAL_NAMESPACE"},
			Value:   "default",
		},
		&cli.StringFlag{
			Name:    "temporal-task-queue",
			Usage:   "Temporal task queue of the confirmation worker",
			EnvVars: []string{"TEMPORAL_TASK_QUEUE"},
			Value:   "aptostx-confirm",
		},
		&cli.StringFlag{
			Name:    "log-level",
			Usage:   "Log level (debug, info, warn, error)",
			EnvVars: []string{"LOG_LEVEL"},
			Value:   "error",
		},
		&cli.BoolFlag{
			Name:    "json",
			Aliases: []string{"j"},
			Usage:   "Output in JSON format",
		},
		&cli.StringFlag{
			Name:  "jq",
			Usage: "Apply a jq filter to the JSON output",
		},
	}
}
