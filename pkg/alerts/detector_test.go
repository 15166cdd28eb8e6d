package alerts

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/veritrade-labs/tradecore/pkg/directory"
	"github.com/veritrade-labs/tradecore/pkg/ledger"
	"github.com/veritrade-labs/tradecore/pkg/risk"
)

type fixture struct {
	detector *Detector
	ledger   *ledger.MemoryStore
	scores   *risk.MemoryScoreStore
	store    *MemoryAlertStore
}

func newFixture(t *testing.T) *fixture {
	t.Helper()
	dir := directory.NewMemoryDirectory(
		directory.Principal{ID: "usr-alice", Name: "Alice"},
		directory.Principal{ID: "usr-bob", Name: "Bob"},
		directory.Principal{ID: "sys-detector", Name: "Detector"},
	)
	l := ledger.NewMemoryStore(dir)
	scores := risk.NewMemoryScoreStore()
	store := NewMemoryAlertStore()
	return &fixture{
		detector: NewDetector(l, scores, store, "sys-detector"),
		ledger:   l,
		scores:   scores,
		store:    store,
	}
}

func (f *fixture) append(t *testing.T, in ledger.Input) {
	t.Helper()
	_, err := f.ledger.Append(context.Background(), in)
	require.NoError(t, err)
}

func TestDetectPatterns_UninvestigatedFailure(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	f.append(t, ledger.Input{Action: ledger.ActionVerificationFailed, ActorID: "usr-alice", DocumentID: "doc-1"})
	// Enough unrelated activity follows for the failure to come due.
	for i := 0; i < investigationWindow; i++ {
		f.append(t, ledger.Input{Action: ledger.ActionVerified, ActorID: "usr-bob", DocumentID: "doc-other"})
	}

	raised, err := f.detector.DetectPatterns(ctx)
	require.NoError(t, err)
	require.Len(t, raised, 1)
	assert.Equal(t, TypeUninvestigatedFailure, raised[0].Type)
	assert.Equal(t, "doc-1", raised[0].DocumentID)
	assert.Equal(t, StatusOpen, raised[0].Status)
	assert.Equal(t, SeverityHigh, raised[0].Severity)
}

func TestDetectPatterns_InvestigatedFailureIsQuiet(t *testing.T) {
	f := newFixture(t)

	f.append(t, ledger.Input{Action: ledger.ActionVerificationFailed, ActorID: "usr-alice", DocumentID: "doc-1"})
	f.append(t, ledger.Input{Action: ledger.ActionInvestigated, ActorID: "usr-bob", DocumentID: "doc-1"})
	for i := 0; i < investigationWindow; i++ {
		f.append(t, ledger.Input{Action: ledger.ActionVerified, ActorID: "usr-bob", DocumentID: "doc-other"})
	}

	raised, err := f.detector.DetectPatterns(context.Background())
	require.NoError(t, err)
	assert.Empty(t, raised)
}

func TestDetectPatterns_RecentFailureNotYetDue(t *testing.T) {
	f := newFixture(t)

	f.append(t, ledger.Input{Action: ledger.ActionVerificationFailed, ActorID: "usr-alice", DocumentID: "doc-1"})
	// Only two entries follow; the window has not elapsed.
	f.append(t, ledger.Input{Action: ledger.ActionVerified, ActorID: "usr-bob", DocumentID: "doc-other"})
	f.append(t, ledger.Input{Action: ledger.ActionVerified, ActorID: "usr-bob", DocumentID: "doc-other"})

	raised, err := f.detector.DetectPatterns(context.Background())
	require.NoError(t, err)
	assert.Empty(t, raised)
}

func TestDetectPatterns_FailedLedgerEvent(t *testing.T) {
	f := newFixture(t)

	f.append(t, ledger.Input{
		Action:     ledger.ActionAmended,
		ActorID:    "usr-alice",
		DocumentID: "doc-1",
		Metadata:   ledger.Metadata{"result": "FAIL", "reason": "signature mismatch"},
	})

	raised, err := f.detector.DetectPatterns(context.Background())
	require.NoError(t, err)
	require.Len(t, raised, 1)
	assert.Equal(t, TypeFailedLedgerEvent, raised[0].Type)
	assert.Equal(t, "doc-1", raised[0].DocumentID)
}

func TestDetectPatterns_RepeatedDispute(t *testing.T) {
	f := newFixture(t)

	f.append(t, ledger.Input{Action: ledger.ActionDisputed, ActorID: "usr-alice", TradeID: "trd-1"})
	f.append(t, ledger.Input{Action: ledger.ActionDisputed, ActorID: "usr-bob", TradeID: "trd-1"})
	// A single dispute on another trade stays below the bar.
	f.append(t, ledger.Input{Action: ledger.ActionDisputed, ActorID: "usr-alice", TradeID: "trd-2"})

	raised, err := f.detector.DetectPatterns(context.Background())
	require.NoError(t, err)
	require.Len(t, raised, 1)
	assert.Equal(t, TypeRepeatedDispute, raised[0].Type)
	assert.Equal(t, "trd-1", raised[0].TradeID)
}

func TestDetectPatterns_CriticalRiskUser(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	require.NoError(t, f.scores.Put(ctx, &risk.Score{
		UserID:        "usr-alice",
		Score:         92.5,
		Category:      risk.CategoryCritical,
		PolicyVersion: "1.0.0",
	}))
	require.NoError(t, f.scores.Put(ctx, &risk.Score{
		UserID:        "usr-bob",
		Score:         12.0,
		Category:      risk.CategoryLow,
		PolicyVersion: "1.0.0",
	}))

	raised, err := f.detector.DetectPatterns(ctx)
	require.NoError(t, err)
	require.Len(t, raised, 1)
	assert.Equal(t, TypeCriticalRiskUser, raised[0].Type)
	assert.Equal(t, "usr-alice", raised[0].UserID)
	assert.Equal(t, SeverityCritical, raised[0].Severity)
}

func TestDetectPatterns_DeduplicatesAcrossRuns(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	f.append(t, ledger.Input{Action: ledger.ActionDisputed, ActorID: "usr-alice", TradeID: "trd-1"})
	f.append(t, ledger.Input{Action: ledger.ActionDisputed, ActorID: "usr-bob", TradeID: "trd-1"})

	first, err := f.detector.DetectPatterns(ctx)
	require.NoError(t, err)
	require.Len(t, first, 1)

	second, err := f.detector.DetectPatterns(ctx)
	require.NoError(t, err)
	assert.Empty(t, second, "active alert must suppress a duplicate")

	// Resolving the alert reopens the key for future detections.
	_, err = f.detector.UpdateStatus(ctx, first[0].ID, StatusResolved, "reviewed")
	require.NoError(t, err)

	third, err := f.detector.DetectPatterns(ctx)
	require.NoError(t, err)
	require.Len(t, third, 1)
	assert.NotEqual(t, first[0].ID, third[0].ID)
}

func TestUpdateStatus_Lifecycle(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	f.append(t, ledger.Input{Action: ledger.ActionDisputed, ActorID: "usr-alice", TradeID: "trd-1"})
	f.append(t, ledger.Input{Action: ledger.ActionDisputed, ActorID: "usr-bob", TradeID: "trd-1"})
	raised, err := f.detector.DetectPatterns(ctx)
	require.NoError(t, err)
	require.Len(t, raised, 1)
	id := raised[0].ID

	a, err := f.detector.UpdateStatus(ctx, id, StatusInvestigating, "")
	require.NoError(t, err)
	assert.Equal(t, StatusInvestigating, a.Status)
	assert.Nil(t, a.ResolvedAt)

	a, err = f.detector.UpdateStatus(ctx, id, StatusDismissed, "false positive")
	require.NoError(t, err)
	assert.Equal(t, StatusDismissed, a.Status)
	assert.Equal(t, "false positive", a.Notes)
	require.NotNil(t, a.ResolvedAt)

	// Terminal alerts reject further transitions, naming the current status.
	_, err = f.detector.UpdateStatus(ctx, id, StatusResolved, "")
	require.ErrorIs(t, err, ErrInvalidTransition)
	assert.Contains(t, err.Error(), "DISMISSED")

	// The dismissal itself is on the ledger.
	entries, err := f.ledger.Query(ctx, ledger.Filter{Action: ledger.ActionAlertDismissed})
	require.NoError(t, err)
	require.Len(t, entries, 1)
	alertID, ok := entries[0].Metadata.String("alert_id")
	require.True(t, ok)
	assert.Equal(t, id, alertID)
}

func TestUpdateStatus_UnknownAlert(t *testing.T) {
	f := newFixture(t)
	_, err := f.detector.UpdateStatus(context.Background(), "missing", StatusResolved, "")
	assert.ErrorIs(t, err, ErrAlertNotFound)
}

func TestDetectPatterns_CELRule(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	rules, err := CompileCELRules([]CELRule{{
		Name:       "LARGE_AMENDMENT",
		Severity:   SeverityMedium,
		Expression: `entry.action == "AMENDED" && entry.metadata.amount_delta > 100000.0`,
	}})
	require.NoError(t, err)
	f.detector.WithCELRules(rules...)

	f.append(t, ledger.Input{
		Action:     ledger.ActionAmended,
		ActorID:    "usr-alice",
		DocumentID: "doc-1",
		Metadata:   ledger.Metadata{"amount_delta": 250000.0},
	})
	f.append(t, ledger.Input{
		Action:     ledger.ActionAmended,
		ActorID:    "usr-bob",
		DocumentID: "doc-2",
		Metadata:   ledger.Metadata{"amount_delta": 10.0},
	})

	raised, err := f.detector.DetectPatterns(ctx)
	require.NoError(t, err)
	require.Len(t, raised, 1)
	assert.Equal(t, Type("LARGE_AMENDMENT"), raised[0].Type)
	assert.Equal(t, "doc-1", raised[0].DocumentID)
}

func TestCompileCELRules_RejectsBadExpression(t *testing.T) {
	_, err := CompileCELRules([]CELRule{{
		Name:       "BROKEN",
		Expression: `entry.action ==`,
	}})
	assert.Error(t, err)
}

func TestList_Filters(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	f.append(t, ledger.Input{Action: ledger.ActionDisputed, ActorID: "usr-alice", TradeID: "trd-1"})
	f.append(t, ledger.Input{Action: ledger.ActionDisputed, ActorID: "usr-bob", TradeID: "trd-1"})
	f.append(t, ledger.Input{
		Action:     ledger.ActionAmended,
		ActorID:    "usr-alice",
		DocumentID: "doc-1",
		Metadata:   ledger.Metadata{"result": "FAIL"},
	})

	raised, err := f.detector.DetectPatterns(ctx)
	require.NoError(t, err)
	require.Len(t, raised, 2)

	high, err := f.detector.List(ctx, ListFilter{Severity: SeverityHigh})
	require.NoError(t, err)
	require.Len(t, high, 1)
	assert.Equal(t, TypeRepeatedDispute, high[0].Type)

	open, err := f.detector.List(ctx, ListFilter{Status: StatusOpen})
	require.NoError(t, err)
	assert.Len(t, open, 2)
}
