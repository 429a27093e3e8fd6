// Package pipeline wires building, signing, submission and confirmation
// into the operations callers use: BuildAndSign, SubmitAndConfirm and their
// multi-agent and simulation variants.
//
// A Pipeline holds no per-transaction state apart from the cached chain id
// and may be shared by concurrent callers. Callers must not race two
// in-flight transactions from the same sender; the second one would reuse
// the first one's sequence number.
package pipeline

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"sync"
	"time"

	"github.com/brojonat/aptostx/service/aptos"
	"github.com/brojonat/aptostx/service/confirm"
	"github.com/brojonat/aptostx/service/metrics"
	"github.com/brojonat/aptostx/service/signer"
	"github.com/brojonat/aptostx/service/txn"
)

// Chain is the network collaborator. *aptos.Client implements it.
type Chain interface {
	confirm.StatusFetcher
	ChainID(ctx context.Context) (uint8, error)
	SequenceNumber(ctx context.Context, address txn.Address) (uint64, error)
	Submit(ctx context.Context, signed *txn.SignedTransaction) (string, error)
	Simulate(ctx context.Context, signed *txn.SignedTransaction) (*aptos.SimulationResult, error)
}

// KeyHolder is the public half of a signer; enough to build a simulation.
type KeyHolder interface {
	PublicKey() []byte
	Address() txn.Address
}

// Submission describes a transaction accepted by the node.
type Submission struct {
	Hash           string
	Sender         txn.Address
	SequenceNumber uint64
	Authenticator  string
	Secondaries    []txn.Address
	ExpiresAt      time.Time
	SubmittedAt    time.Time
}

// Recorder persists submissions and their final outcomes.
type Recorder interface {
	RecordSubmission(ctx context.Context, s Submission) error
	RecordOutcome(ctx context.Context, o confirm.Outcome) error
}

// Publisher announces final outcomes.
type Publisher interface {
	PublishOutcome(ctx context.Context, sender txn.Address, o confirm.Outcome) error
}

// Config holds the optional settings of a Pipeline. Zero values select the
// defaults from package txn.
type Config struct {
	MaxGasAmount  uint64
	GasUnitPrice  uint64
	ExpirationTTL time.Duration
	// ChainID skips the ledger query when non-zero.
	ChainID uint8

	Recorder  Recorder
	Publisher Publisher
	Logger    *slog.Logger
	Metrics   *metrics.Metrics
	Now       func() time.Time
}

type Pipeline struct {
	chain     Chain
	poller    *confirm.Poller
	maxGas    uint64
	gasPrice  uint64
	ttl       time.Duration
	recorder  Recorder
	publisher Publisher
	logger    *slog.Logger
	metrics   *metrics.Metrics
	now       func() time.Time

	chainMu sync.Mutex
	chainID uint8
}

// New creates a Pipeline. A nil poller polls chain with default settings.
func New(chain Chain, poller *confirm.Poller, cfg Config) *Pipeline {
	p := &Pipeline{
		chain:     chain,
		poller:    poller,
		maxGas:    cfg.MaxGasAmount,
		gasPrice:  cfg.GasUnitPrice,
		ttl:       cfg.ExpirationTTL,
		chainID:   cfg.ChainID,
		recorder:  cfg.Recorder,
		publisher: cfg.Publisher,
		logger:    cfg.Logger,
		metrics:   cfg.Metrics,
		now:       cfg.Now,
	}
	if p.maxGas == 0 {
		p.maxGas = txn.DefaultMaxGasAmount
	}
	if p.gasPrice == 0 {
		p.gasPrice = txn.DefaultGasUnitPrice
	}
	if p.ttl <= 0 {
		p.ttl = txn.DefaultExpirationTTL
	}
	if p.logger == nil {
		p.logger = slog.New(slog.NewJSONHandler(io.Discard, nil))
	}
	if p.now == nil {
		p.now = time.Now
	}
	if p.poller == nil {
		p.poller = confirm.NewPoller(chain, confirm.WithLogger(p.logger), confirm.WithMetrics(p.metrics))
	}
	return p
}

// ChainID returns the chain id, querying the node on first use. Only a
// successful answer is cached.
func (p *Pipeline) ChainID(ctx context.Context) (uint8, error) {
	p.chainMu.Lock()
	defer p.chainMu.Unlock()
	if p.chainID != 0 {
		return p.chainID, nil
	}
	id, err := p.chain.ChainID(ctx)
	if err != nil {
		return 0, err
	}
	p.chainID = id
	return id, nil
}

func (p *Pipeline) buildRaw(ctx context.Context, sender txn.Address, payload txn.Payload) (*txn.RawTransaction, error) {
	if payload == nil {
		return nil, txn.ErrNilPayload
	}
	seq, err := p.chain.SequenceNumber(ctx, sender)
	if err != nil {
		return nil, fmt.Errorf("failed to get sequence number for %s: %w", sender, err)
	}
	chainID, err := p.ChainID(ctx)
	if err != nil {
		return nil, err
	}
	return txn.NewRawTransaction(sender, seq, payload, p.maxGas, p.gasPrice, txn.ExpirationFrom(p.now(), p.ttl), chainID)
}

// BuildAndSign builds a single-signer transaction for payload and signs it.
func (p *Pipeline) BuildAndSign(ctx context.Context, sender signer.Signer, payload txn.Payload) (*txn.SignedTransaction, error) {
	raw, err := p.buildRaw(ctx, sender.Address(), payload)
	if err != nil {
		return nil, err
	}
	sig, err := sender.Sign(ctx, txn.Preimage(raw))
	if err != nil {
		return nil, fmt.Errorf("sender %s: %w", sender.Address(), err)
	}
	auth, err := txn.SingleSigner(sender.PublicKey(), sig)
	if err != nil {
		return nil, err
	}
	p.logger.DebugContext(ctx, "transaction signed",
		"sender", raw.Sender.String(),
		"sequence_number", raw.SequenceNumber,
	)
	return txn.Assemble(raw, auth)
}

// BuildAndSignMultiAgent builds a multi-agent transaction whose secondary
// signers are secondaries, in that order. All signers sign the same
// preimage concurrently; any missing signature fails the whole call.
func (p *Pipeline) BuildAndSignMultiAgent(ctx context.Context, sender signer.Signer, secondaries []signer.Signer, payload txn.Payload) (*txn.SignedTransaction, error) {
	raw, err := p.buildRaw(ctx, sender.Address(), payload)
	if err != nil {
		return nil, err
	}
	ma, err := txn.BuildMultiAgent(raw, signer.Addresses(secondaries))
	if err != nil {
		return nil, err
	}
	msg := txn.Preimage(ma)

	all, err := signer.CollectSecondary(ctx, msg, append([]signer.Signer{sender}, secondaries...))
	if err != nil {
		return nil, err
	}
	auth, err := txn.MultiAgent(ma, all[0].Authenticator, all[1:])
	if err != nil {
		return nil, err
	}
	p.logger.DebugContext(ctx, "multi-agent transaction signed",
		"sender", raw.Sender.String(),
		"secondaries", len(secondaries),
	)
	return txn.Assemble(ma, auth)
}

// Simulate builds payload for sender with zero signatures and sends it to the
// simulate endpoint. Passing secondaries simulates a multi-agent transaction.
func (p *Pipeline) Simulate(ctx context.Context, sender KeyHolder, payload txn.Payload, secondaries ...KeyHolder) (*aptos.SimulationResult, error) {
	raw, err := p.buildRaw(ctx, sender.Address(), payload)
	if err != nil {
		return nil, err
	}

	var signed *txn.SignedTransaction
	if len(secondaries) == 0 {
		auth, err := txn.SimulationAuthenticator(sender.PublicKey())
		if err != nil {
			return nil, err
		}
		if signed, err = txn.Assemble(raw, auth); err != nil {
			return nil, err
		}
	} else {
		addrs := make([]txn.Address, len(secondaries))
		keys := make([][]byte, len(secondaries))
		for i, s := range secondaries {
			addrs[i] = s.Address()
			keys[i] = s.PublicKey()
		}
		ma, err := txn.BuildMultiAgent(raw, addrs)
		if err != nil {
			return nil, err
		}
		auth, err := txn.SimulationMultiAgent(ma, sender.PublicKey(), keys)
		if err != nil {
			return nil, err
		}
		if signed, err = txn.Assemble(ma, auth); err != nil {
			return nil, err
		}
	}
	return p.chain.Simulate(ctx, signed)
}

// SubmitAndConfirm submits signed and waits up to maxWait for a verdict.
//
// The returned error is only set for local problems, such as a simulation
// authenticator; anything the network does is reported through the
// outcome, including a rejected submission (OutcomeTransportError).
func (p *Pipeline) SubmitAndConfirm(ctx context.Context, signed *txn.SignedTransaction, maxWait time.Duration) (confirm.Outcome, error) {
	if signed == nil || signed.Authenticator == nil {
		return confirm.Outcome{}, txn.ErrMissingSignature
	}
	if signed.IsSimulation() {
		return confirm.Outcome{}, txn.ErrSimulationAuthenticator
	}

	sub, err := p.Submit(ctx, signed)
	if err != nil {
		out := confirm.Outcome{
			Kind: confirm.OutcomeTransportError,
			Hash: signed.Hash(),
			Err:  err,
		}
		if ctx.Err() != nil {
			out.Kind = confirm.OutcomeCancelled
			out.Err = ctx.Err()
		}
		return out, nil
	}

	out := p.poller.Await(ctx, sub.Hash, maxWait)
	p.finish(ctx, sub.Sender, out)
	return out, nil
}

// Submit sends signed to the node without waiting and records the
// submission. Confirmation is left to the caller.
func (p *Pipeline) Submit(ctx context.Context, signed *txn.SignedTransaction) (Submission, error) {
	if signed == nil || signed.Authenticator == nil {
		return Submission{}, txn.ErrMissingSignature
	}
	if signed.IsSimulation() {
		return Submission{}, txn.ErrSimulationAuthenticator
	}

	raw := signed.Transaction.Raw()
	hash, err := p.chain.Submit(ctx, signed)
	if err != nil {
		return Submission{}, fmt.Errorf("submit: %w", err)
	}

	sub := Submission{
		Hash:           hash,
		Sender:         raw.Sender,
		SequenceNumber: raw.SequenceNumber,
		Authenticator:  signed.Authenticator.Kind.String(),
		ExpiresAt:      time.Unix(int64(raw.ExpirationTimestampSecs), 0).UTC(),
		SubmittedAt:    p.now().UTC(),
	}
	if ma, ok := signed.Transaction.(*txn.MultiAgentRawTransaction); ok {
		sub.Secondaries = ma.SecondaryAddresses
	}
	if p.recorder != nil {
		if err := p.recorder.RecordSubmission(ctx, sub); err != nil {
			p.logger.WarnContext(ctx, "failed to record submission", "hash", hash, "error", err)
		}
	}
	return sub, nil
}

// Await waits for an already submitted transaction.
func (p *Pipeline) Await(ctx context.Context, hash string, maxWait time.Duration) confirm.Outcome {
	return p.poller.Await(ctx, hash, maxWait)
}

// Status reports the current state of hash with a single query.
func (p *Pipeline) Status(ctx context.Context, hash string) confirm.Outcome {
	return p.poller.Check(ctx, hash)
}

// Transfer sends amount of the native coin from sender to to.
func (p *Pipeline) Transfer(ctx context.Context, sender signer.Signer, to txn.Address, amount uint64, maxWait time.Duration) (confirm.Outcome, error) {
	signed, err := p.BuildAndSign(ctx, sender, txn.TransferPayload(to, amount))
	if err != nil {
		return confirm.Outcome{}, err
	}
	return p.SubmitAndConfirm(ctx, signed, maxWait)
}

// finish hands a final outcome to the hooks. Hook failures are logged and
// never change the outcome.
func (p *Pipeline) finish(ctx context.Context, sender txn.Address, out confirm.Outcome) {
	// Hooks still run when the caller's context is done.
	hookCtx := context.WithoutCancel(ctx)
	if p.recorder != nil {
		if err := p.recorder.RecordOutcome(hookCtx, out); err != nil {
			p.logger.WarnContext(ctx, "failed to record outcome", "hash", out.Hash, "error", err)
		}
	}
	if p.publisher != nil {
		if err := p.publisher.PublishOutcome(hookCtx, sender, out); err != nil {
			p.logger.WarnContext(ctx, "failed to publish outcome", "hash", out.Hash, "error", err)
		}
	}
}
