package main

import (
	"fmt"
	"io"

	"github.com/brojonat/aptostx/service/temporal"
	"github.com/brojonat/aptostx/service/txn"
	"github.com/urfave/cli/v2"
)

func getTemporalClient(c *cli.Context) (*temporal.Client, error) {
	return temporal.NewClient(
		c.String("temporal-host"),
		c.String("temporal-namespace"),
		c.String("temporal-task-queue"),
		setupLogger(c.String("log-level")),
	)
}

func startConfirmation(c *cli.Context, input temporal.ConfirmTransactionInput) (string, error) {
	tc, err := getTemporalClient(c)
	if err != nil {
		return "", err
	}
	defer tc.Close()
	return tc.StartConfirmation(c.Context, input)
}

func startConfirmationCommand() *cli.Command {
	return &cli.Command{
		Name:      "confirm",
		Usage:     "Start a durable confirmation of an already submitted transaction",
		ArgsUsage: "<hash>",
		Flags: []cli.Flag{
			&cli.StringFlag{
				Name:     "sender",
				Aliases:  []string{"s"},
				Usage:    "Sender address, used as the outcome subject",
				Required: true,
			},
			waitFlag(),
		},
		Action: func(c *cli.Context) error {
			hash, err := hexArg(c, "transaction hash")
			if err != nil {
				return err
			}
			sender, err := txn.ParseAddress(c.String("sender"))
			if err != nil {
				return err
			}
			id, err := startConfirmation(c, temporal.ConfirmTransactionInput{
				Hash:     hash,
				Sender:   sender.String(),
				MaxWait:  c.Duration("wait"),
				Interval: c.Duration("poll-interval"),
			})
			if err != nil {
				return err
			}
			v := submissionView{Hash: hash, Sender: sender.String(), WorkflowID: id}
			return output(c, v, func(w io.Writer) {
				fmt.Fprintln(w, id)
			})
		},
	}
}

func confirmationResultCommand() *cli.Command {
	return &cli.Command{
		Name:      "result",
		Usage:     "Wait for a confirmation workflow and print its verdict",
		ArgsUsage: "<hash>",
		Action: func(c *cli.Context) error {
			hash, err := hexArg(c, "transaction hash")
			if err != nil {
				return err
			}
			tc, err := getTemporalClient(c)
			if err != nil {
				return err
			}
			defer tc.Close()

			res, err := tc.AwaitConfirmation(c.Context, temporal.WorkflowID(hash))
			if err != nil {
				return err
			}
			return printOutcome(c, res.ToOutcome())
		},
	}
}
