package lifecycle

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/veritrade-labs/tradecore/pkg/directory"
	"github.com/veritrade-labs/tradecore/pkg/document"
	"github.com/veritrade-labs/tradecore/pkg/ledger"
)

func setup(t *testing.T) (*Validator, *ledger.MemoryStore, *document.MemoryRepository) {
	t.Helper()
	dir := directory.NewMemoryDirectory(directory.Principal{ID: "usr-alice", Name: "Alice"})
	store := ledger.NewMemoryStore(dir)
	docs := document.NewMemoryRepository()
	docs.Put(&document.Document{ID: "doc-1", OwnerID: "usr-alice", Type: document.TypeInvoice})
	return NewValidator(store, docs, nil), store, docs
}

func record(t *testing.T, store *ledger.MemoryStore, docID string, actions ...ledger.Action) {
	t.Helper()
	for _, a := range actions {
		_, err := store.Append(context.Background(), ledger.Input{
			Action: a, ActorID: "usr-alice", DocumentID: docID,
		})
		require.NoError(t, err)
	}
}

func TestAnalyze_CompleteSequence(t *testing.T) {
	v, store, _ := setup(t)
	record(t, store, "doc-1",
		ledger.ActionIssued, ledger.ActionVerified, ledger.ActionShipped,
		ledger.ActionReceived, ledger.ActionPaid)

	report, err := v.Analyze(context.Background(), "doc-1")
	require.NoError(t, err)

	assert.True(t, report.IsSequenceValid)
	assert.Empty(t, report.MissingStages)
	assert.Empty(t, report.DuplicateActions)
	for _, e := range report.Events {
		assert.True(t, e.IsValid, "event %s should be valid", e.Action)
	}
}

func TestAnalyze_PaidWithoutShipment(t *testing.T) {
	v, store, _ := setup(t)
	record(t, store, "doc-1", ledger.ActionIssued, ledger.ActionPaid)

	report, err := v.Analyze(context.Background(), "doc-1")
	require.NoError(t, err)

	assert.False(t, report.IsSequenceValid)
	assert.Contains(t, report.MissingStages, ledger.ActionShipped)
	assert.Contains(t, report.MissingStages, ledger.ActionReceived)

	// The PAID event itself is flagged out of order.
	require.Len(t, report.Events, 2)
	assert.True(t, report.Events[0].IsValid)
	assert.False(t, report.Events[1].IsValid)
	assert.NotEmpty(t, report.Events[1].Notes)
}

func TestAnalyze_DuplicateIssued(t *testing.T) {
	v, store, _ := setup(t)
	record(t, store, "doc-1", ledger.ActionIssued, ledger.ActionIssued)

	report, err := v.Analyze(context.Background(), "doc-1")
	require.NoError(t, err)

	assert.Equal(t, []Stage{ledger.ActionIssued}, report.DuplicateActions)
	assert.False(t, report.IsSequenceValid)
	assert.False(t, report.Events[1].IsValid)
}

func TestAnalyze_ShippedBeforeVerified(t *testing.T) {
	v, store, _ := setup(t)
	record(t, store, "doc-1", ledger.ActionIssued, ledger.ActionShipped, ledger.ActionVerified)

	report, err := v.Analyze(context.Background(), "doc-1")
	require.NoError(t, err)

	// SHIPPED arrived before VERIFIED: the event is out of order, but since
	// VERIFIED does eventually occur no stage is missing.
	assert.False(t, report.Events[1].IsValid)
	assert.Contains(t, report.Events[1].Notes[0], "VERIFIED")
	assert.Empty(t, report.MissingStages)
	assert.True(t, report.IsSequenceValid)
}

func TestAnalyze_ExceptionalBranches(t *testing.T) {
	v, store, _ := setup(t)
	record(t, store, "doc-1",
		ledger.ActionIssued, ledger.ActionVerified, ledger.ActionAmended,
		ledger.ActionDisputed, ledger.ActionShipped)

	report, err := v.Analyze(context.Background(), "doc-1")
	require.NoError(t, err)

	// AMENDED/DISPUTED do not retire the chain or invalidate the sequence.
	assert.True(t, report.IsSequenceValid)
	for _, e := range report.Events {
		assert.True(t, e.IsValid, "event %s should be valid", e.Action)
	}
}

func TestAnalyze_DisputeBeforeIssueIsFlagged(t *testing.T) {
	v, store, _ := setup(t)
	record(t, store, "doc-1", ledger.ActionDisputed, ledger.ActionIssued)

	report, err := v.Analyze(context.Background(), "doc-1")
	require.NoError(t, err)
	assert.False(t, report.Events[0].IsValid)
}

func TestAnalyze_Deterministic(t *testing.T) {
	v, store, _ := setup(t)
	record(t, store, "doc-1", ledger.ActionIssued, ledger.ActionPaid)

	r1, err := v.Analyze(context.Background(), "doc-1")
	require.NoError(t, err)
	r2, err := v.Analyze(context.Background(), "doc-1")
	require.NoError(t, err)
	assert.Equal(t, r1, r2)

	// Analysis never writes to the ledger.
	assert.Equal(t, 2, store.Size())
}

func TestAnalyze_UnknownDocument(t *testing.T) {
	v, _, _ := setup(t)

	_, err := v.Analyze(context.Background(), "doc-404")
	assert.ErrorIs(t, err, document.ErrNotFound)
}
