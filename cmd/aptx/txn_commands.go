package main

import (
	"context"
	"encoding/hex"
	"fmt"
	"io"
	"time"

	"github.com/brojonat/aptostx/service/aptos"
	"github.com/brojonat/aptostx/service/bcs"
	"github.com/brojonat/aptostx/service/pipeline"
	"github.com/brojonat/aptostx/service/signer"
	"github.com/brojonat/aptostx/service/temporal"
	"github.com/brojonat/aptostx/service/txn"
	"github.com/urfave/cli/v2"
)

func transferFlags() []cli.Flag {
	return []cli.Flag{
		&cli.StringFlag{
			Name:     "to",
			Usage:    "Recipient address",
			Required: true,
		},
		&cli.Uint64Flag{
			Name:     "amount",
			Aliases:  []string{"a"},
			Usage:    "Amount in the coin's smallest unit (octas for APT)",
			Required: true,
		},
		&cli.StringFlag{
			Name:  "coin",
			Usage: "Coin type to transfer; empty sends the native coin",
		},
	}
}

func callFlags() []cli.Flag {
	return []cli.Flag{
		&cli.StringFlag{
			Name:     "function",
			Aliases:  []string{"f"},
			Usage:    "Entry function id, e.g. 0x1::aptos_account::transfer",
			Required: true,
		},
		&cli.StringSliceFlag{
			Name:    "type-arg",
			Aliases: []string{"t"},
			Usage:   "Type argument (repeatable)",
		},
		&cli.StringSliceFlag{
			Name:  "arg",
			Usage: "Argument as type:value, e.g. u64:100 or address:0x1 (repeatable)",
		},
	}
}

func transferPayload(c *cli.Context) (txn.Payload, error) {
	to, err := txn.ParseAddress(c.String("to"))
	if err != nil {
		return nil, fmt.Errorf("--to: %w", err)
	}
	if coin := c.String("coin"); coin != "" {
		return txn.CoinTransferPayload(coin, to, c.Uint64("amount"))
	}
	return txn.TransferPayload(to, c.Uint64("amount")), nil
}

func callPayload(c *cli.Context) (txn.Payload, error) {
	args, err := txn.ParseArguments(c.StringSlice("arg"))
	if err != nil {
		return nil, err
	}
	return txn.NewEntryFunction(c.String("function"), c.StringSlice("type-arg"), args)
}

// payloadFrom picks the entry function when --function is set and a
// transfer otherwise.
func payloadFrom(c *cli.Context) (txn.Payload, error) {
	if c.String("function") != "" {
		return callPayload(c)
	}
	if c.String("to") == "" {
		return nil, fmt.Errorf("either --function or --to/--amount is required")
	}
	return transferPayload(c)
}

func secondaryKeyFlag() cli.Flag {
	return &cli.StringSliceFlag{
		Name:  "secondary-key",
		Usage: "Secondary signer key for a multi-agent transaction (repeatable, in order)",
	}
}

func asyncFlag() cli.Flag {
	return &cli.BoolFlag{
		Name:  "async",
		Usage: "Submit and hand confirmation to the Temporal worker instead of waiting",
	}
}

type balanceView struct {
	Address string `json:"address"`
	Coin    string `json:"coin"`
	Balance uint64 `json:"balance"`
}

func balanceCommand() *cli.Command {
	return &cli.Command{
		Name:      "balance",
		Usage:     "Show the coin balance of an account",
		ArgsUsage: "<address>",
		Flags: []cli.Flag{
			&cli.StringFlag{
				Name:  "coin",
				Usage: "Coin type",
				Value: txn.AptosCoinType,
			},
		},
		Action: func(c *cli.Context) error {
			if c.NArg() != 1 {
				return fmt.Errorf("requires exactly one argument: account address")
			}
			addr, err := txn.ParseAddress(c.Args().First())
			if err != nil {
				return err
			}
			chain, err := newChain(c, setupLogger(c.String("log-level")))
			if err != nil {
				return err
			}
			bal, err := chain.Balance(c.Context, addr, c.String("coin"))
			if err != nil {
				return fmt.Errorf("failed to get balance: %w", err)
			}
			v := balanceView{Address: addr.String(), Coin: c.String("coin"), Balance: bal}
			return output(c, v, func(w io.Writer) {
				fmt.Fprintf(w, "%d\n", bal)
			})
		},
	}
}

type preimageView struct {
	Sender         string   `json:"sender"`
	SequenceNumber uint64   `json:"sequence_number"`
	ChainID        uint8    `json:"chain_id"`
	Expiration     uint64   `json:"expiration_timestamp_secs"`
	Secondaries    []string `json:"secondary_signers,omitempty"`
	RawTransaction string   `json:"raw_transaction"`
	Preimage       string   `json:"preimage"`
}

func preimageCommand() *cli.Command {
	flags := []cli.Flag{
		&cli.StringFlag{
			Name:     "sender",
			Aliases:  []string{"s"},
			Usage:    "Sender address",
			Required: true,
		},
		&cli.Uint64Flag{
			Name:  "sequence-number",
			Usage: "Sender sequence number; read from the node when unset",
		},
		&cli.Uint64Flag{
			Name:  "expiration",
			Usage: "Expiration as unix seconds; now + --ttl when unset",
		},
		&cli.StringSliceFlag{
			Name:  "secondary",
			Usage: "Secondary signer address for a multi-agent transaction (repeatable, in order)",
		},
	}
	flags = append(flags, transferOrCallFlags()...)
	return &cli.Command{
		Name:  "preimage",
		Usage: "Print the raw transaction and the exact bytes a signer signs",
		Description: `Builds the transaction without signing it. With --sequence-number and
--chain-id set no network call is made.`,
		Flags: flags,
		Action: func(c *cli.Context) error {
			payload, err := payloadFrom(c)
			if err != nil {
				return err
			}
			sender, err := txn.ParseAddress(c.String("sender"))
			if err != nil {
				return fmt.Errorf("--sender: %w", err)
			}
			raw, err := buildOffline(c, sender, payload)
			if err != nil {
				return err
			}

			var signable txn.Signable = raw
			var secondaries []string
			if addrs := c.StringSlice("secondary"); len(addrs) > 0 {
				parsed := make([]txn.Address, len(addrs))
				for i, a := range addrs {
					if parsed[i], err = txn.ParseAddress(a); err != nil {
						return fmt.Errorf("--secondary %d: %w", i, err)
					}
					secondaries = append(secondaries, parsed[i].String())
				}
				if signable, err = txn.BuildMultiAgent(raw, parsed); err != nil {
					return err
				}
			}

			v := preimageView{
				Sender:         raw.Sender.String(),
				SequenceNumber: raw.SequenceNumber,
				ChainID:        raw.ChainID,
				Expiration:     raw.ExpirationTimestampSecs,
				Secondaries:    secondaries,
				RawTransaction: "0x" + hex.EncodeToString(bcs.Serialize(raw)),
				Preimage:       "0x" + hex.EncodeToString(txn.Preimage(signable)),
			}
			return output(c, v, func(w io.Writer) {
				fmt.Fprintln(w, v.Preimage)
			})
		},
	}
}

// buildOffline builds a raw transaction, asking the node only for the
// values the flags leave unset.
func buildOffline(c *cli.Context, sender txn.Address, payload txn.Payload) (*txn.RawTransaction, error) {
	var chain *aptos.Client
	node := func() (*aptos.Client, error) {
		if chain != nil {
			return chain, nil
		}
		var err error
		chain, err = newChain(c, setupLogger(c.String("log-level")))
		return chain, err
	}

	seq := c.Uint64("sequence-number")
	if !c.IsSet("sequence-number") {
		ch, err := node()
		if err != nil {
			return nil, err
		}
		if seq, err = ch.SequenceNumber(c.Context, sender); err != nil {
			return nil, fmt.Errorf("failed to get sequence number: %w", err)
		}
	}

	chainID := uint8(c.Uint("chain-id"))
	if c.Uint("chain-id") > 255 {
		return nil, fmt.Errorf("--chain-id %d does not fit in a u8", c.Uint("chain-id"))
	}
	if chainID == 0 {
		ch, err := node()
		if err != nil {
			return nil, err
		}
		if chainID, err = ch.ChainID(c.Context); err != nil {
			return nil, fmt.Errorf("failed to get chain id: %w", err)
		}
	}

	maxGas := c.Uint64("max-gas")
	if maxGas == 0 {
		maxGas = txn.DefaultMaxGasAmount
	}
	gasPrice := c.Uint64("gas-price")
	if gasPrice == 0 {
		gasPrice = txn.DefaultGasUnitPrice
	}
	exp := c.Uint64("expiration")
	if exp == 0 {
		ttl := c.Duration("ttl")
		if ttl <= 0 {
			ttl = txn.DefaultExpirationTTL
		}
		exp = txn.ExpirationFrom(time.Now(), ttl)
	}
	return txn.NewRawTransaction(sender, seq, payload, maxGas, gasPrice, exp, chainID)
}

type simulationView struct {
	Success      bool   `json:"success"`
	VMStatus     string `json:"vm_status"`
	GasUsed      uint64 `json:"gas_used"`
	GasUnitPrice uint64 `json:"gas_unit_price"`
}

func simulateCommand() *cli.Command {
	flags := append([]cli.Flag{keyFlag(), secondaryKeyFlag()}, transferOrCallFlags()...)
	return &cli.Command{
		Name:  "simulate",
		Usage: "Estimate gas and check the outcome without submitting",
		Flags: flags,
		Action: func(c *cli.Context) error {
			sender, err := loadSigner(c, "key")
			if err != nil {
				return err
			}
			secondaries, err := loadSigners(c.StringSlice("secondary-key"))
			if err != nil {
				return err
			}
			payload, err := payloadFrom(c)
			if err != nil {
				return err
			}
			e, err := newEnv(c)
			if err != nil {
				return err
			}
			defer e.close()

			holders := make([]pipeline.KeyHolder, len(secondaries))
			for i, s := range secondaries {
				holders[i] = s
			}
			res, err := e.pipeline.Simulate(c.Context, sender, payload, holders...)
			if err != nil {
				return fmt.Errorf("simulation failed: %w", err)
			}
			v := simulationView{
				Success:      res.Success,
				VMStatus:     res.VMStatus,
				GasUsed:      res.GasUsed,
				GasUnitPrice: res.GasUnitPrice,
			}
			return output(c, v, func(w io.Writer) {
				fmt.Fprintf(w, "Success:   %t\n", v.Success)
				fmt.Fprintf(w, "VMStatus:  %s\n", v.VMStatus)
				fmt.Fprintf(w, "Gas Used:  %d\n", v.GasUsed)
				fmt.Fprintf(w, "Gas Price: %d\n", v.GasUnitPrice)
			})
		},
	}
}

// transferOrCallFlags are the payload flags without Required, for commands
// that take either form.
func transferOrCallFlags() []cli.Flag {
	return []cli.Flag{
		&cli.StringFlag{Name: "to", Usage: "Recipient address"},
		&cli.Uint64Flag{Name: "amount", Aliases: []string{"a"}, Usage: "Transfer amount"},
		&cli.StringFlag{Name: "coin", Usage: "Coin type to transfer"},
		&cli.StringFlag{Name: "function", Aliases: []string{"f"}, Usage: "Entry function id"},
		&cli.StringSliceFlag{Name: "type-arg", Aliases: []string{"t"}, Usage: "Type argument (repeatable)"},
		&cli.StringSliceFlag{Name: "arg", Usage: "Argument as type:value (repeatable)"},
	}
}

func transferCommand() *cli.Command {
	flags := append([]cli.Flag{keyFlag(), waitFlag(), asyncFlag()}, transferFlags()...)
	return &cli.Command{
		Name:  "transfer",
		Usage: "Transfer coins and wait for the transaction to commit",
		Flags: flags,
		Action: func(c *cli.Context) error {
			payload, err := transferPayload(c)
			if err != nil {
				return err
			}
			return signAndSend(c, payload)
		},
	}
}

func callCommand() *cli.Command {
	flags := append([]cli.Flag{keyFlag(), secondaryKeyFlag(), waitFlag(), asyncFlag()}, callFlags()...)
	return &cli.Command{
		Name:  "call",
		Usage: "Call an entry function and wait for the transaction to commit",
		Flags: flags,
		Action: func(c *cli.Context) error {
			payload, err := callPayload(c)
			if err != nil {
				return err
			}
			return signAndSend(c, payload)
		},
	}
}

type submissionView struct {
	Hash       string `json:"hash"`
	Sender     string `json:"sender"`
	WorkflowID string `json:"workflow_id,omitempty"`
}

func signAndSend(c *cli.Context, payload txn.Payload) error {
	sender, err := loadSigner(c, "key")
	if err != nil {
		return err
	}
	var secondaries []signer.Signer
	if c.IsSet("secondary-key") {
		if secondaries, err = loadSigners(c.StringSlice("secondary-key")); err != nil {
			return err
		}
	}

	e, err := newEnv(c)
	if err != nil {
		return err
	}
	defer e.close()

	var signed *txn.SignedTransaction
	if len(secondaries) > 0 {
		signed, err = e.pipeline.BuildAndSignMultiAgent(c.Context, sender, secondaries, payload)
	} else {
		signed, err = e.pipeline.BuildAndSign(c.Context, sender, payload)
	}
	if err != nil {
		return fmt.Errorf("failed to build transaction: %w", err)
	}

	if !c.Bool("async") {
		out, err := e.pipeline.SubmitAndConfirm(c.Context, signed, c.Duration("wait"))
		if err != nil {
			return err
		}
		return printOutcome(c, out)
	}

	sub, err := e.pipeline.Submit(c.Context, signed)
	if err != nil {
		return err
	}
	id, err := startConfirmation(c, temporal.ConfirmTransactionInput{
		Hash:     sub.Hash,
		Sender:   sub.Sender.String(),
		MaxWait:  c.Duration("wait"),
		Interval: c.Duration("poll-interval"),
	})
	if err != nil {
		return fmt.Errorf("submitted %s but failed to start confirmation: %w", sub.Hash, err)
	}
	v := submissionView{Hash: sub.Hash, Sender: sub.Sender.String(), WorkflowID: id}
	return output(c, v, func(w io.Writer) {
		fmt.Fprintf(w, "Hash:     %s\n", v.Hash)
		fmt.Fprintf(w, "Workflow: %s\n", v.WorkflowID)
	})
}

func statusCommand() *cli.Command {
	return &cli.Command{
		Name:      "status",
		Usage:     "Look a transaction up once",
		ArgsUsage: "<hash>",
		Action: func(c *cli.Context) error {
			hash, err := hexArg(c, "transaction hash")
			if err != nil {
				return err
			}
			e, err := newEnv(c)
			if err != nil {
				return err
			}
			defer e.close()
			return printOutcome(c, e.pipeline.Status(c.Context, hash))
		},
	}
}

func awaitCommand() *cli.Command {
	return &cli.Command{
		Name:      "await",
		Usage:     "Wait for a submitted transaction to commit",
		ArgsUsage: "<hash>",
		Flags:     []cli.Flag{waitFlag()},
		Action: func(c *cli.Context) error {
			hash, err := hexArg(c, "transaction hash")
			if err != nil {
				return err
			}
			e, err := newEnv(c)
			if err != nil {
				return err
			}
			defer e.close()

			// Leave the poller a little room past the budget so its own
			// timeout decides, not the context's.
			ctx, cancel := context.WithTimeout(c.Context, c.Duration("wait")+e.poller.Interval()+10*time.Second)
			defer cancel()
			return printOutcome(c, e.pipeline.Await(ctx, hash, c.Duration("wait")))
		},
	}
}
