package integrity

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/veritrade-labs/tradecore/pkg/canonical"
	"github.com/veritrade-labs/tradecore/pkg/directory"
	"github.com/veritrade-labs/tradecore/pkg/document"
	"github.com/veritrade-labs/tradecore/pkg/ledger"
)

type capturedFlag struct {
	doc    *document.Document
	result Result
}

type recordingFlagger struct {
	flags []capturedFlag
}

func (f *recordingFlagger) Flag(_ context.Context, doc *document.Document, result Result) {
	f.flags = append(f.flags, capturedFlag{doc: doc, result: result})
}

func setup(t *testing.T) (*Verifier, *document.FileStore, *ledger.MemoryStore, *recordingFlagger) {
	t.Helper()
	blobs, err := document.NewFileStore(t.TempDir())
	require.NoError(t, err)

	dir := directory.NewMemoryDirectory(directory.Principal{ID: "sys-verifier", Name: "Integrity Verifier"})
	store := ledger.NewMemoryStore(dir)
	flagger := &recordingFlagger{}
	v := NewVerifier(blobs, store, "sys-verifier").WithFlagger(flagger)
	return v, blobs, store, flagger
}

func TestVerify_MatchingBytes(t *testing.T) {
	v, blobs, store, flagger := setup(t)
	ctx := context.Background()

	body := []byte("commercial invoice #42")
	require.NoError(t, blobs.Put(ctx, "doc-1", body))
	doc := &document.Document{ID: "doc-1", Type: document.TypeInvoice, StoredHash: canonical.HashBytes(body)}

	result, err := v.Verify(ctx, doc)
	require.NoError(t, err)
	assert.True(t, result.IsValid)
	assert.Equal(t, doc.StoredHash, result.CurrentHash)
	assert.Empty(t, flagger.flags)

	entries, err := store.Query(ctx, ledger.Filter{DocumentID: "doc-1", Action: ledger.ActionVerified})
	require.NoError(t, err)
	require.Len(t, entries, 1)
	outcome, _ := entries[0].Metadata.String("result")
	assert.Equal(t, "PASS", outcome)
}

func TestVerify_TamperedBytes(t *testing.T) {
	v, blobs, store, flagger := setup(t)
	ctx := context.Background()

	require.NoError(t, blobs.Put(ctx, "doc-1", []byte("original")))
	doc := &document.Document{ID: "doc-1", StoredHash: canonical.HashBytes([]byte("original"))}

	// Bytes change underneath the stored hash.
	require.NoError(t, blobs.Put(ctx, "doc-1", []byte("altered")))

	result, err := v.Verify(ctx, doc)
	require.NoError(t, err)
	assert.False(t, result.IsValid)
	assert.NotEqual(t, doc.StoredHash, result.CurrentHash)

	// Failure is a ledger fact and the flagger fired; the document record is untouched.
	entries, err := store.Query(ctx, ledger.Filter{Action: ledger.ActionVerificationFailed})
	require.NoError(t, err)
	assert.Len(t, entries, 1)
	require.Len(t, flagger.flags, 1)
	assert.Equal(t, "doc-1", flagger.flags[0].result.DocumentID)
	assert.Equal(t, canonical.HashBytes([]byte("original")), doc.StoredHash)
}

func TestVerify_Idempotent(t *testing.T) {
	v, blobs, store, _ := setup(t)
	ctx := context.Background()

	body := []byte("bill of lading")
	require.NoError(t, blobs.Put(ctx, "doc-1", body))
	doc := &document.Document{ID: "doc-1", StoredHash: canonical.HashBytes(body)}

	first, err := v.Verify(ctx, doc)
	require.NoError(t, err)
	second, err := v.Verify(ctx, doc)
	require.NoError(t, err)

	assert.Equal(t, first, second, "unchanged bytes must verify identically")

	// Each run adds an observation; nothing is deduplicated or mutated.
	entries, err := store.Query(ctx, ledger.Filter{DocumentID: "doc-1"})
	require.NoError(t, err)
	assert.Len(t, entries, 2)
}

func TestVerify_MissingBlobIsError(t *testing.T) {
	v, _, _, _ := setup(t)

	_, err := v.Verify(context.Background(), &document.Document{ID: "doc-missing"})
	assert.ErrorIs(t, err, document.ErrNotFound)
}
