// Package integrity detects content tampering of stored trade documents.
// The verifier recomputes the content hash over the document's current bytes
// and compares it to the hash fixed at upload time. A mismatch is a result,
// not an error; the outcome is recorded as an immutable ledger fact either way.
package integrity

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/veritrade-labs/tradecore/pkg/canonical"
	"github.com/veritrade-labs/tradecore/pkg/document"
	"github.com/veritrade-labs/tradecore/pkg/ledger"
)

// Result is the outcome of one verification run.
type Result struct {
	DocumentID  string `json:"document_id"`
	IsValid     bool   `json:"is_valid"`
	CurrentHash string `json:"current_hash"`
	StoredHash  string `json:"stored_hash"`
}

// Flagger receives documents whose bytes no longer match their stored hash.
// The compliance detector uses this to raise alerts without the verifier
// depending on it.
type Flagger interface {
	Flag(ctx context.Context, doc *document.Document, result Result)
}

// Verifier computes and compares document content hashes.
type Verifier struct {
	blobs   document.BlobStore
	ledger  ledger.Store
	flagger Flagger
	actorID string
	logger  *slog.Logger
}

// NewVerifier creates a verifier that reads bytes from blobs and records
// outcomes in the ledger under the given system actor ID.
func NewVerifier(blobs document.BlobStore, store ledger.Store, actorID string) *Verifier {
	return &Verifier{
		blobs:   blobs,
		ledger:  store,
		actorID: actorID,
		logger:  slog.Default(),
	}
}

// WithFlagger sets the mismatch side-channel.
func (v *Verifier) WithFlagger(f Flagger) *Verifier {
	v.flagger = f
	return v
}

// WithLogger overrides the default logger.
func (v *Verifier) WithLogger(l *slog.Logger) *Verifier {
	v.logger = l
	return v
}

// Verify recomputes the content hash of doc's current stored bytes and
// compares it against doc.StoredHash. Re-running against unchanged bytes is
// idempotent: the same result comes back and only a new ledger observation
// is added. The document record itself is never mutated.
func (v *Verifier) Verify(ctx context.Context, doc *document.Document) (Result, error) {
	data, err := v.blobs.Get(ctx, doc.ID)
	if err != nil {
		return Result{}, fmt.Errorf("integrity: read document %s: %w", doc.ID, err)
	}

	result := Result{
		DocumentID:  doc.ID,
		CurrentHash: canonical.HashBytes(data),
		StoredHash:  doc.StoredHash,
	}
	result.IsValid = result.CurrentHash == doc.StoredHash

	action := ledger.ActionVerified
	outcome := "PASS"
	if !result.IsValid {
		action = ledger.ActionVerificationFailed
		outcome = "FAIL"
	}

	_, err = v.ledger.Append(ctx, ledger.Input{
		Action:     action,
		ActorID:    v.actorID,
		DocumentID: doc.ID,
		Metadata: ledger.Metadata{
			"result":       outcome,
			"current_hash": result.CurrentHash,
			"stored_hash":  doc.StoredHash,
		},
	})
	if err != nil {
		return Result{}, fmt.Errorf("integrity: record outcome: %w", err)
	}

	if !result.IsValid {
		v.logger.Warn("document hash mismatch",
			"document_id", doc.ID,
			"stored_hash", doc.StoredHash,
			"current_hash", result.CurrentHash,
		)
		if v.flagger != nil {
			v.flagger.Flag(ctx, doc, result)
		}
	}
	return result, nil
}
