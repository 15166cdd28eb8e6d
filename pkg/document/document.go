// Package document holds the trade document model and the byte storage the
// integrity verifier reads from. The stored hash is fixed at upload time and
// never recomputed in place; verification produces a separate observation.
package document

import (
	"context"
	"errors"
	"sync"
	"time"
)

var ErrNotFound = errors.New("document: not found")

// Type is the closed set of trade document kinds.
type Type string

const (
	TypeLetterOfCredit Type = "LOC"
	TypeInvoice        Type = "INVOICE"
	TypeBillOfLading   Type = "BILL_OF_LADING"
	TypePurchaseOrder  Type = "PO"
	TypeCertOfOrigin   Type = "COO"
	TypeInsuranceCert  Type = "INSURANCE_CERT"
)

// Valid reports whether t is a known document type.
func (t Type) Valid() bool {
	switch t {
	case TypeLetterOfCredit, TypeInvoice, TypeBillOfLading,
		TypePurchaseOrder, TypeCertOfOrigin, TypeInsuranceCert:
		return true
	}
	return false
}

// Document is the metadata record for an uploaded trade document.
type Document struct {
	ID         string    `json:"id"`
	OwnerID    string    `json:"owner_id"`
	Type       Type      `json:"doc_type"`
	Number     string    `json:"doc_number"`
	StoredHash string    `json:"stored_hash"` // content hash fixed at upload
	CreatedAt  time.Time `json:"created_at"`
}

// Repository provides read access to document records.
type Repository interface {
	Get(ctx context.Context, id string) (*Document, error)
	ListByOwner(ctx context.Context, ownerID string) ([]*Document, error)
}

// BlobStore reads and writes the raw bytes of stored documents. The storage
// backend (filesystem, S3) is outside the trust boundary of the ledger; the
// verifier exists precisely because these bytes can change underneath us.
type BlobStore interface {
	Put(ctx context.Context, documentID string, data []byte) error
	Get(ctx context.Context, documentID string) ([]byte, error)
	Exists(ctx context.Context, documentID string) (bool, error)
}

// MemoryRepository is an in-memory Repository.
type MemoryRepository struct {
	mu   sync.RWMutex
	docs map[string]*Document
}

func NewMemoryRepository() *MemoryRepository {
	return &MemoryRepository{docs: make(map[string]*Document)}
}

// Put stores or replaces a document record.
func (r *MemoryRepository) Put(doc *Document) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.docs[doc.ID] = doc
}

func (r *MemoryRepository) Get(_ context.Context, id string) (*Document, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	doc, ok := r.docs[id]
	if !ok {
		return nil, ErrNotFound
	}
	return doc, nil
}

func (r *MemoryRepository) ListByOwner(_ context.Context, ownerID string) ([]*Document, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	var out []*Document
	for _, d := range r.docs {
		if d.OwnerID == ownerID {
			out = append(out, d)
		}
	}
	return out, nil
}
