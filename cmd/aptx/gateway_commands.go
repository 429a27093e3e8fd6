package main

import (
	"encoding/json"
	"fmt"
	"io"
	"os"
	"os/signal"
	"syscall"

	"github.com/brojonat/aptostx/client"
	"github.com/brojonat/aptostx/service/signer"
	"github.com/brojonat/aptostx/service/txn"
	"github.com/urfave/cli/v2"
)

func gatewayCommands() *cli.Command {
	return &cli.Command{
		Name:  "gateway",
		Usage: "Relay signed transactions through the HTTP gateway",
		Flags: []cli.Flag{
			&cli.StringFlag{
				Name:    "gateway-url",
				Aliases: []string{"g"},
				Usage:   "Gateway base URL",
				EnvVars: []string{"APTOS_GATEWAY_URL"},
				Value:   "http://localhost:8080",
			},
		},
		Subcommands: []*cli.Command{
			gatewaySendCommand(),
			gatewayRelayCommand(),
			gatewayGetCommand(),
			gatewayListCommand(),
			gatewayConfirmationCommand(),
			gatewayStreamCommand(),
		},
	}
}

func newGatewayClient(c *cli.Context) *client.Client {
	return client.NewClient(c.String("gateway-url"), nil, setupLogger(c.String("log-level")))
}

func printSubmission(c *cli.Context, sub *client.Submission) error {
	return output(c, sub, func(w io.Writer) {
		fmt.Fprintf(w, "Hash:     %s\n", sub.Hash)
		fmt.Fprintf(w, "Sender:   %s\n", sub.Sender)
		fmt.Fprintf(w, "Sequence: %d\n", sub.SequenceNumber)
		if sub.WorkflowID != "" {
			fmt.Fprintf(w, "Workflow: %s\n", sub.WorkflowID)
		}
	})
}

func printTransaction(w io.Writer, tx *client.Transaction) {
	fmt.Fprintf(w, "Hash:     %s\n", tx.Hash)
	if tx.Sender != "" {
		fmt.Fprintf(w, "Sender:   %s\n", tx.Sender)
	}
	fmt.Fprintf(w, "Outcome:  %s (%s)\n", tx.Outcome, tx.Source)
	if tx.Outcome == "committed" {
		fmt.Fprintf(w, "Success:  %t\n", tx.Success)
		fmt.Fprintf(w, "VMStatus: %s\n", tx.VMStatus)
		fmt.Fprintf(w, "Version:  %d\n", tx.Version)
	}
	if tx.Error != nil {
		fmt.Fprintf(w, "Error:    %s\n", *tx.Error)
	}
}

func gatewaySendCommand() *cli.Command {
	flags := []cli.Flag{
		keyFlag(),
		waitFlag(),
		&cli.Uint64Flag{
			Name:  "sequence-number",
			Usage: "Sender sequence number; read from the node when unset",
		},
		&cli.Uint64Flag{
			Name:  "expiration",
			Usage: "Expiration as unix seconds; now + --ttl when unset",
		},
	}
	flags = append(flags, transferOrCallFlags()...)
	return &cli.Command{
		Name:  "send",
		Usage: "Sign a transaction locally and submit it through the gateway",
		Flags: flags,
		Action: func(c *cli.Context) error {
			k, err := loadSigner(c, "key")
			if err != nil {
				return err
			}
			payload, err := payloadFrom(c)
			if err != nil {
				return err
			}
			raw, err := buildOffline(c, k.Address(), payload)
			if err != nil {
				return err
			}
			sender, err := signer.Authenticate(c.Context, k, txn.Preimage(raw))
			if err != nil {
				return err
			}
			signed, err := txn.Assemble(raw, &txn.Authenticator{Kind: txn.AuthenticatorEd25519, Sender: sender})
			if err != nil {
				return err
			}

			sub, err := newGatewayClient(c).Submit(c.Context, signed.Bytes(), c.Duration("wait"))
			if err != nil {
				return err
			}
			return printSubmission(c, sub)
		},
	}
}

func gatewayRelayCommand() *cli.Command {
	return &cli.Command{
		Name:      "relay",
		Usage:     "Submit a transaction signed elsewhere",
		ArgsUsage: "<signed-transaction-hex>",
		Flags:     []cli.Flag{waitFlag()},
		Action: func(c *cli.Context) error {
			signedHex, err := hexArg(c, "signed transaction hex")
			if err != nil {
				return err
			}
			sub, err := newGatewayClient(c).SubmitHex(c.Context, signedHex, c.Duration("wait"))
			if err != nil {
				return err
			}
			return printSubmission(c, sub)
		},
	}
}

func gatewayGetCommand() *cli.Command {
	return &cli.Command{
		Name:      "get",
		Usage:     "Show what the gateway knows about a transaction",
		ArgsUsage: "<hash>",
		Action: func(c *cli.Context) error {
			hash, err := hexArg(c, "transaction hash")
			if err != nil {
				return err
			}
			tx, err := newGatewayClient(c).GetTransaction(c.Context, hash)
			if err != nil {
				return err
			}
			return output(c, tx, func(w io.Writer) { printTransaction(w, tx) })
		},
	}
}

func gatewayListCommand() *cli.Command {
	return &cli.Command{
		Name:  "list",
		Usage: "List a sender's relayed transactions",
		Flags: []cli.Flag{
			&cli.StringFlag{Name: "sender", Aliases: []string{"s"}, Usage: "Sender address", Required: true},
			&cli.IntFlag{Name: "limit", Usage: "Maximum number of results"},
			&cli.IntFlag{Name: "offset", Usage: "Results to skip"},
		},
		Action: func(c *cli.Context) error {
			txs, err := newGatewayClient(c).ListTransactions(c.Context, c.String("sender"), c.Int("limit"), c.Int("offset"))
			if err != nil {
				return err
			}
			return output(c, txs, func(w io.Writer) {
				for _, tx := range txs {
					fmt.Fprintf(w, "%s  %-15s %t\n", tx.Hash, tx.Outcome, tx.Success)
				}
			})
		},
	}
}

func gatewayConfirmationCommand() *cli.Command {
	return &cli.Command{
		Name:      "confirmation",
		Usage:     "Show the state of a confirmation workflow",
		ArgsUsage: "<workflow-id>",
		Action: func(c *cli.Context) error {
			if c.NArg() != 1 {
				return fmt.Errorf("requires exactly one argument: workflow id")
			}
			conf, err := newGatewayClient(c).GetConfirmation(c.Context, c.Args().First())
			if err != nil {
				return err
			}
			return output(c, conf, func(w io.Writer) {
				fmt.Fprintf(w, "Workflow: %s\n", conf.WorkflowID)
				fmt.Fprintf(w, "Status:   %s\n", conf.Status)
				if conf.Result != nil {
					printTransaction(w, conf.Result)
				}
			})
		},
	}
}

func gatewayStreamCommand() *cli.Command {
	return &cli.Command{
		Name:      "stream",
		Usage:     "Stream final outcomes over Server-Sent Events",
		ArgsUsage: "[sender]",
		Action: func(c *cli.Context) error {
			ctx, stop := signal.NotifyContext(c.Context, os.Interrupt, syscall.SIGTERM)
			defer stop()

			w := c.App.Writer
			jsonOutput := c.Bool("json")
			return newGatewayClient(c).StreamOutcomes(ctx, c.Args().First(), func(e *client.OutcomeEvent) error {
				if jsonOutput {
					b, err := json.Marshal(e)
					if err != nil {
						return err
					}
					fmt.Fprintln(w, string(b))
					return nil
				}
				fmt.Fprintf(w, "%s  %s  %-15s success=%t version=%d\n",
					e.PublishedAt.Format("15:04:05"), e.Hash, e.Outcome, e.Success, e.Version)
				return nil
			})
		},
	}
}
