package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	natspkg "github.com/brojonat/aptostx/service/nats"
	"github.com/brojonat/aptostx/service/txn"
	"github.com/itchyny/gojq"
	"github.com/nats-io/nats.go/jetstream"
	"github.com/urfave/cli/v2"
)

func subscribeCommand() *cli.Command {
	return &cli.Command{
		Name:  "subscribe",
		Usage: "Stream transaction outcomes as they are published",
		Flags: []cli.Flag{
			&cli.StringFlag{
				Name:    "sender",
				Aliases: []string{"s"},
				Usage:   "Only outcomes of this sender",
			},
			&cli.StringFlag{
				Name:  "consumer",
				Usage: "Durable consumer name; replays unacknowledged outcomes",
			},
			&cli.StringSliceFlag{
				Name:  "must-jq",
				Usage: "jq filter that must evaluate to true for an outcome to be printed (repeatable)",
			},
			&cli.IntFlag{
				Name:  "count",
				Usage: "Exit after this many outcomes; 0 streams until interrupted",
			},
		},
		Action: func(c *cli.Context) error {
			natsURL := c.String("nats-url")
			if natsURL == "" {
				return fmt.Errorf("nats-url is required (set NATS_URL env var or use --nats-url)")
			}
			sender := ""
			if s := c.String("sender"); s != "" {
				addr, err := txn.ParseAddress(s)
				if err != nil {
					return err
				}
				sender = addr.String()
			}
			filters := make([]*gojq.Code, 0, len(c.StringSlice("must-jq")))
			for _, f := range c.StringSlice("must-jq") {
				code, err := compileJQ(f)
				if err != nil {
					return err
				}
				filters = append(filters, code)
			}

			nc, err := natspkg.Connect(natsURL, "aptx-subscriber")
			if err != nil {
				return err
			}
			defer nc.Close()
			js, err := jetstream.New(nc)
			if err != nil {
				return fmt.Errorf("failed to create JetStream context: %w", err)
			}

			ctx, stop := signal.NotifyContext(c.Context, os.Interrupt, syscall.SIGTERM)
			defer stop()
			ctx, cancel := context.WithCancel(ctx)
			defer cancel()

			logger := setupLogger(c.String("log-level"))
			limit := c.Int("count")
			seen := 0
			events := make(chan *natspkg.OutcomeEvent, 16)
			go func() {
				_ = natspkg.Subscribe(ctx, js, natspkg.SubscribeOptions{
					Sender:  sender,
					Durable: c.String("consumer"),
				}, logger, func(ev *natspkg.OutcomeEvent) {
					select {
					case events <- ev:
					case <-ctx.Done():
					}
				})
			}()

			for {
				select {
				case <-ctx.Done():
					return nil
				case ev := <-events:
					ok, err := matchAll(filters, ev)
					if err != nil {
						return err
					}
					if !ok {
						continue
					}
					if err := printEvent(c, ev); err != nil {
						return err
					}
					seen++
					if limit > 0 && seen >= limit {
						return nil
					}
				}
			}
		},
	}
}

// matchAll reports whether every filter yields a truthy first result.
func matchAll(filters []*gojq.Code, ev *natspkg.OutcomeEvent) (bool, error) {
	if len(filters) == 0 {
		return true, nil
	}
	input, err := toJQInput(ev)
	if err != nil {
		return false, err
	}
	for _, code := range filters {
		v, ok := code.Run(input).Next()
		if !ok {
			return false, nil
		}
		if _, isErr := v.(error); isErr {
			return false, nil
		}
		if !isTruthy(v) {
			return false, nil
		}
	}
	return true, nil
}

func printEvent(c *cli.Context, ev *natspkg.OutcomeEvent) error {
	w := c.App.Writer
	if filter := c.String("jq"); filter != "" {
		return outputJQ(w, filter, ev)
	}
	if c.Bool("json") {
		return outputJSON(w, ev)
	}
	fmt.Fprintf(w, "%s  %-15s  %s  attempts=%d", ev.PublishedAt.Format(time.RFC3339), ev.Outcome, ev.Hash, ev.Attempts)
	if ev.VMStatus != "" {
		fmt.Fprintf(w, "  vm_status=%q", ev.VMStatus)
	}
	if ev.Error != "" {
		fmt.Fprintf(w, "  error=%q", ev.Error)
	}
	fmt.Fprintln(w)
	return nil
}
