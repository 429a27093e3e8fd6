package txn

import "errors"

// Local validation errors. They are returned immediately and are never worth
// retrying: the inputs have to change.
var (
	ErrInvalidAddress     = errors.New("invalid account address")
	ErrNilPayload         = errors.New("transaction payload is required")
	ErrDuplicateSigner    = errors.New("duplicate signer address")
	ErrEmptySecondaryList = errors.New("multi-agent transaction requires at least one secondary signer")

	ErrSignerCountMismatch = errors.New("secondary signer count does not match transaction")
	ErrSignerOrderMismatch = errors.New("secondary signer order does not match transaction")
	ErrMissingSignature    = errors.New("missing signature")
	ErrInvalidPublicKey    = errors.New("invalid ed25519 public key")
	ErrInvalidSignature    = errors.New("invalid ed25519 signature")

	// ErrAuthenticatorMismatch is returned when an authenticator variant is
	// paired with the wrong kind of transaction.
	ErrAuthenticatorMismatch = errors.New("authenticator does not match transaction kind")

	// ErrSimulationAuthenticator is returned when a zero-signature
	// authenticator reaches a path that commits transactions.
	ErrSimulationAuthenticator = errors.New("simulation authenticator cannot be submitted")

	ErrInvalidTypeTag  = errors.New("invalid type tag")
	ErrInvalidArgument = errors.New("invalid entry function argument")

	// ErrMalformedTransaction is returned by DecodeSignedTransaction.
	ErrMalformedTransaction = errors.New("malformed signed transaction")
)
