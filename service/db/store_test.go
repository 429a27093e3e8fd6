package db

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/brojonat/aptostx/service/confirm"
	"github.com/brojonat/aptostx/service/pipeline"
	"github.com/brojonat/aptostx/service/txn"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func submission(hash string, sender txn.Address, seq uint64, at time.Time) pipeline.Submission {
	return pipeline.Submission{
		Hash:           hash,
		Sender:         sender,
		SequenceNumber: seq,
		Authenticator:  "ed25519",
		ExpiresAt:      at.Add(30 * time.Second),
		SubmittedAt:    at,
	}
}

func TestRecordSubmission(t *testing.T) {
	SkipIfNoTestDB(t)

	store := NewTestStore(t)
	defer store.Close()
	defer store.Cleanup(t)

	ctx := context.Background()
	now := time.Now().UTC().Truncate(time.Microsecond)
	sender := txn.MustParseAddress("0xa11ce")
	second := txn.MustParseAddress("0xb0b")

	t.Run("single signer", func(t *testing.T) {
		sub := submission("0x01", sender, 7, now)
		require.NoError(t, store.RecordSubmission(ctx, sub))

		rec, err := store.GetSubmission(ctx, "0x01")
		require.NoError(t, err)
		assert.Equal(t, sender, rec.Sender)
		assert.Equal(t, uint64(7), rec.SequenceNumber)
		assert.Empty(t, rec.Secondaries)
		assert.WithinDuration(t, now, rec.SubmittedAt, time.Microsecond)
		assert.Nil(t, rec.Outcome)
	})

	t.Run("multi agent keeps secondary order", func(t *testing.T) {
		sub := submission("0x02", sender, 8, now.Add(time.Second))
		sub.Authenticator = "multi_agent"
		sub.Secondaries = []txn.Address{second, txn.AddressOne}
		require.NoError(t, store.RecordSubmission(ctx, sub))

		rec, err := store.GetSubmission(ctx, "0x02")
		require.NoError(t, err)
		assert.Equal(t, []txn.Address{second, txn.AddressOne}, rec.Secondaries)
	})

	t.Run("duplicate hash is ignored", func(t *testing.T) {
		require.NoError(t, store.RecordSubmission(ctx, submission("0x01", sender, 99, now)))
		rec, err := store.GetSubmission(ctx, "0x01")
		require.NoError(t, err)
		assert.Equal(t, uint64(7), rec.SequenceNumber)
	})

	t.Run("missing hash", func(t *testing.T) {
		_, err := store.GetSubmission(ctx, "0xdead")
		assert.ErrorIs(t, err, ErrNotFound)
	})
}

func TestRecordOutcome(t *testing.T) {
	SkipIfNoTestDB(t)

	store := NewTestStore(t)
	defer store.Close()
	defer store.Cleanup(t)

	ctx := context.Background()
	sender := txn.MustParseAddress("0xa11ce")
	require.NoError(t, store.RecordSubmission(ctx, submission("0x01", sender, 1, time.Now().UTC())))

	require.NoError(t, store.RecordOutcome(ctx, confirm.Outcome{
		Kind:     confirm.OutcomeTimedOut,
		Hash:     "0x01",
		Attempts: 10,
		Elapsed:  20 * time.Second,
		Err:      errors.New("still pending"),
	}))

	rec, err := store.GetSubmission(ctx, "0x01")
	require.NoError(t, err)
	require.NotNil(t, rec.Outcome)
	assert.Equal(t, confirm.OutcomeTimedOut, rec.Outcome.Outcome)
	require.NotNil(t, rec.Outcome.Error)
	assert.Equal(t, "still pending", *rec.Outcome.Error)

	pending, err := store.ListPending(ctx, 10)
	require.NoError(t, err)
	require.Len(t, pending, 1)

	// A later confirmation replaces the timeout.
	require.NoError(t, store.RecordOutcome(ctx, confirm.Outcome{
		Kind:     confirm.OutcomeCommitted,
		Hash:     "0x01",
		Success:  false,
		VMStatus: "Move abort: EINSUFFICIENT_BALANCE",
		Version:  12345,
		Attempts: 2,
	}))

	rec, err = store.GetSubmission(ctx, "0x01")
	require.NoError(t, err)
	assert.Equal(t, confirm.OutcomeCommitted, rec.Outcome.Outcome)
	assert.False(t, rec.Outcome.Success)
	assert.Equal(t, uint64(12345), rec.Outcome.Version)
	assert.Nil(t, rec.Outcome.Error)

	pending, err = store.ListPending(ctx, 10)
	require.NoError(t, err)
	assert.Empty(t, pending)

	// A committed outcome is final; a later failed lookup does not replace it.
	require.NoError(t, store.RecordOutcome(ctx, confirm.Outcome{
		Kind:     confirm.OutcomeTransportError,
		Hash:     "0x01",
		Attempts: 1,
		Err:      errors.New("transaction pruned"),
	}))

	rec, err = store.GetSubmission(ctx, "0x01")
	require.NoError(t, err)
	assert.Equal(t, confirm.OutcomeCommitted, rec.Outcome.Outcome)
	assert.Equal(t, uint64(12345), rec.Outcome.Version)
	assert.Nil(t, rec.Outcome.Error)
}

func TestListSubmissionsBySender(t *testing.T) {
	SkipIfNoTestDB(t)

	store := NewTestStore(t)
	defer store.Close()
	defer store.Cleanup(t)

	ctx := context.Background()
	base := time.Now().UTC().Truncate(time.Second)
	alice := txn.MustParseAddress("0xa11ce")
	bob := txn.MustParseAddress("0xb0b")

	for i := 0; i < 3; i++ {
		require.NoError(t, store.RecordSubmission(ctx, submission(
			"0xa"+string(rune('0'+i)), alice, uint64(i), base.Add(time.Duration(i)*time.Minute))))
	}
	require.NoError(t, store.RecordSubmission(ctx, submission("0xb0", bob, 0, base)))

	recs, err := store.ListSubmissionsBySender(ctx, ListSubmissionsParams{Sender: alice, Limit: 2})
	require.NoError(t, err)
	require.Len(t, recs, 2)
	assert.Equal(t, "0xa2", recs[0].Hash)
	assert.Equal(t, "0xa1", recs[1].Hash)

	recs, err = store.ListSubmissionsBySender(ctx, ListSubmissionsParams{Sender: alice, Limit: 2, Offset: 2})
	require.NoError(t, err)
	require.Len(t, recs, 1)
	assert.Equal(t, "0xa0", recs[0].Hash)

	n, err := store.DeleteSubmissionsOlderThan(ctx, base.Add(30*time.Second))
	require.NoError(t, err)
	assert.Equal(t, int64(2), n)
}
