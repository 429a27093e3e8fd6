package main

import (
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net/url"
	"os"
	"strings"
	"time"

	"github.com/brojonat/aptostx/service/aptos"
	"github.com/brojonat/aptostx/service/confirm"
	"github.com/brojonat/aptostx/service/db"
	natspkg "github.com/brojonat/aptostx/service/nats"
	"github.com/brojonat/aptostx/service/pipeline"
	"github.com/brojonat/aptostx/service/signer"
	"github.com/itchyny/gojq"
	"github.com/urfave/cli/v2"
)

func keyFlag() cli.Flag {
	return &cli.StringFlag{
		Name:    "key",
		Aliases: []string{"k"},
		Usage:   "Sender private key (hex seed, hex expanded key or base58)",
		EnvVars: []string{"APTOS_PRIVATE_KEY"},
	}
}

func waitFlag() cli.Flag {
	return &cli.DurationFlag{
		Name:    "wait",
		Aliases: []string{"w"},
		Usage:   "How long to wait for the transaction to commit",
		EnvVars: []string{"TXN_WAIT_TIMEOUT"},
		Value:   20 * time.Second,
	}
}

// setupLogger creates a structured logger with the given log level. CLI
// logs go to stderr so stdout stays parseable.
func setupLogger(levelStr string) *slog.Logger {
	var level slog.Level
	switch levelStr {
	case "debug":
		level = slog.LevelDebug
	case "info":
		level = slog.LevelInfo
	case "warn":
		level = slog.LevelWarn
	default:
		level = slog.LevelError
	}
	return slog.New(slog.NewJSONHandler(os.Stderr, &slog.HandlerOptions{Level: level}))
}

func newChain(c *cli.Context, logger *slog.Logger) (*aptos.Client, error) {
	nodeURL := c.String("node-url")
	u, err := url.ParseRequestURI(nodeURL)
	if err != nil {
		return nil, fmt.Errorf("invalid --node-url %q: %w", nodeURL, err)
	}
	rpc := aptos.NewRPCClient(nodeURL, aptos.NewHTTPClient(nil, 30*time.Second))
	return aptos.NewClient(rpc, u.Host, nil, logger), nil
}

// env bundles the collaborators a command needs. close releases whatever
// optional sinks were opened.
type env struct {
	logger   *slog.Logger
	chain    *aptos.Client
	poller   *confirm.Poller
	pipeline *pipeline.Pipeline
	close    func()
}

func newEnv(c *cli.Context) (*env, error) {
	logger := setupLogger(c.String("log-level"))
	chain, err := newChain(c, logger)
	if err != nil {
		return nil, err
	}

	var closers []func()
	closeAll := func() {
		for i := len(closers) - 1; i >= 0; i-- {
			closers[i]()
		}
	}

	cfg := pipeline.Config{
		MaxGasAmount:  c.Uint64("max-gas"),
		GasUnitPrice:  c.Uint64("gas-price"),
		ExpirationTTL: c.Duration("ttl"),
		Logger:        logger,
	}
	if id := c.Uint("chain-id"); id != 0 {
		if id > 255 {
			return nil, fmt.Errorf("--chain-id %d does not fit in a u8", id)
		}
		cfg.ChainID = uint8(id)
	}
	if dbURL := c.String("database-url"); dbURL != "" {
		pool, err := db.Connect(c.Context, dbURL)
		if err != nil {
			return nil, err
		}
		closers = append(closers, pool.Close)
		cfg.Recorder = db.NewStore(pool, nil)
	}
	if natsURL := c.String("nats-url"); natsURL != "" {
		pub, err := natspkg.NewPublisher(natsURL, nil, logger)
		if err != nil {
			closeAll()
			return nil, err
		}
		closers = append(closers, func() { pub.Close() })
		cfg.Publisher = pub
	}

	poller := confirm.NewPoller(chain,
		confirm.WithInterval(c.Duration("poll-interval")),
		confirm.WithLogger(logger),
	)
	return &env{
		logger:   logger,
		chain:    chain,
		poller:   poller,
		pipeline: pipeline.New(chain, poller, cfg),
		close:    closeAll,
	}, nil
}

func loadSigner(c *cli.Context, flag string) (*signer.Ed25519, error) {
	raw := c.String(flag)
	if raw == "" {
		return nil, fmt.Errorf("--%s is required", flag)
	}
	return signer.Parse(raw)
}

func loadSigners(keys []string) ([]signer.Signer, error) {
	out := make([]signer.Signer, len(keys))
	for i, k := range keys {
		s, err := signer.Parse(k)
		if err != nil {
			return nil, fmt.Errorf("secondary key %d: %w", i, err)
		}
		out[i] = s
	}
	return out, nil
}

// output writes v as JSON when --json or --jq is set, and calls human
// otherwise.
func output(c *cli.Context, v any, human func(w io.Writer)) error {
	w := c.App.Writer
	if filter := c.String("jq"); filter != "" {
		return outputJQ(w, filter, v)
	}
	if c.Bool("json") {
		return outputJSON(w, v)
	}
	human(w)
	return nil
}

func outputJSON(w io.Writer, v any) error {
	enc := json.NewEncoder(w)
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}

// outputJQ runs filter over v's JSON form and prints every result.
func outputJQ(w io.Writer, filter string, v any) error {
	code, err := compileJQ(filter)
	if err != nil {
		return err
	}
	input, err := toJQInput(v)
	if err != nil {
		return err
	}
	iter := code.Run(input)
	for {
		out, ok := iter.Next()
		if !ok {
			return nil
		}
		if err, isErr := out.(error); isErr {
			return fmt.Errorf("jq: %w", err)
		}
		if s, isString := out.(string); isString {
			fmt.Fprintln(w, s)
			continue
		}
		b, err := json.Marshal(out)
		if err != nil {
			return err
		}
		fmt.Fprintln(w, string(b))
	}
}

func compileJQ(filter string) (*gojq.Code, error) {
	query, err := gojq.Parse(filter)
	if err != nil {
		return nil, fmt.Errorf("failed to parse jq filter %q: %w", filter, err)
	}
	code, err := gojq.Compile(query)
	if err != nil {
		return nil, fmt.Errorf("failed to compile jq filter %q: %w", filter, err)
	}
	return code, nil
}

// toJQInput converts v into the plain maps and slices gojq accepts.
func toJQInput(v any) (any, error) {
	b, err := json.Marshal(v)
	if err != nil {
		return nil, err
	}
	var out any
	if err := json.Unmarshal(b, &out); err != nil {
		return nil, err
	}
	return out, nil
}

// isTruthy follows jq: everything except false and null is true.
func isTruthy(v any) bool {
	return v != nil && v != false
}

// outcomeView is the printable form of a confirm.Outcome.
type outcomeView struct {
	Hash     string              `json:"hash"`
	Outcome  confirm.OutcomeKind `json:"outcome"`
	Success  bool                `json:"success"`
	VMStatus string              `json:"vm_status,omitempty"`
	Version  uint64              `json:"version,omitempty"`
	Attempts int                 `json:"attempts"`
	Elapsed  string              `json:"elapsed"`
	Error    string              `json:"error,omitempty"`
}

func viewOutcome(o confirm.Outcome) outcomeView {
	v := outcomeView{
		Hash:     o.Hash,
		Outcome:  o.Kind,
		Success:  o.Success,
		VMStatus: o.VMStatus,
		Version:  o.Version,
		Attempts: o.Attempts,
		Elapsed:  o.Elapsed.Round(time.Millisecond).String(),
	}
	if o.Err != nil {
		v.Error = o.Err.Error()
	}
	return v
}

func printOutcome(c *cli.Context, o confirm.Outcome) error {
	if err := output(c, viewOutcome(o), func(w io.Writer) {
		fmt.Fprintf(w, "Hash:     %s\n", o.Hash)
		fmt.Fprintf(w, "Outcome:  %s\n", o.Kind)
		if o.Kind == confirm.OutcomeCommitted {
			fmt.Fprintf(w, "Success:  %t\n", o.Success)
			fmt.Fprintf(w, "VMStatus: %s\n", o.VMStatus)
			fmt.Fprintf(w, "Version:  %d\n", o.Version)
		}
		fmt.Fprintf(w, "Attempts: %d (%s)\n", o.Attempts, o.Elapsed.Round(time.Millisecond))
		if o.Err != nil {
			fmt.Fprintf(w, "Error:    %v\n", o.Err)
		}
	}); err != nil {
		return err
	}
	return outcomeError(o)
}

// outcomeError turns anything but a successful commit into a non-zero exit.
func outcomeError(o confirm.Outcome) error {
	switch {
	case o.Kind == confirm.OutcomeCommitted && o.Success:
		return nil
	case o.Kind == confirm.OutcomeCommitted:
		return cli.Exit(fmt.Sprintf("transaction %s aborted: %s", o.Hash, o.VMStatus), 1)
	case o.Kind == confirm.OutcomePending || o.Kind == confirm.OutcomeNotFound:
		return nil
	default:
		return cli.Exit(fmt.Sprintf("transaction %s: %s", o.Hash, o.Kind), 2)
	}
}

func hexArg(c *cli.Context, name string) (string, error) {
	if c.NArg() != 1 {
		return "", fmt.Errorf("requires exactly one argument: %s", name)
	}
	h := c.Args().First()
	if !strings.HasPrefix(h, "0x") {
		h = "0x" + h
	}
	return h, nil
}

