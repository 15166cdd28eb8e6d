package trade

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestStatus_TransitionTable(t *testing.T) {
	cases := []struct {
		from, to Status
		allowed  bool
	}{
		{StatusPending, StatusInProgress, true},
		{StatusPending, StatusDisputed, true},
		{StatusPending, StatusPaid, false},
		{StatusInProgress, StatusCompleted, true},
		{StatusInProgress, StatusPaid, true},
		{StatusInProgress, StatusDisputed, true},
		{StatusCompleted, StatusPending, false},
		{StatusPaid, StatusDisputed, false},
		{StatusDisputed, StatusInProgress, false},
	}
	for _, tc := range cases {
		assert.Equal(t, tc.allowed, tc.from.CanTransition(tc.to),
			"%s -> %s", tc.from, tc.to)
	}
}

func TestStatus_Valid(t *testing.T) {
	assert.True(t, StatusDisputed.Valid())
	assert.False(t, Status("cancelled").Valid())
}

func TestMemoryRepository_CreateAndList(t *testing.T) {
	repo := NewMemoryRepository()
	ctx := context.Background()

	require.NoError(t, repo.Create(ctx, &Transaction{
		ID: "trade-1", BuyerID: "usr-alice", SellerID: "usr-bob",
		Amount: 125_000, Currency: "EUR",
	}))
	require.NoError(t, repo.Create(ctx, &Transaction{
		ID: "trade-2", BuyerID: "usr-carol", SellerID: "usr-bob",
		Amount: 40_000, Currency: "USD",
	}))

	all, err := repo.List(ctx, "")
	require.NoError(t, err)
	assert.Len(t, all, 2)
	assert.Equal(t, StatusPending, all[0].Status)

	forBob, err := repo.List(ctx, "usr-bob")
	require.NoError(t, err)
	assert.Len(t, forBob, 2)

	forAlice, err := repo.List(ctx, "usr-alice")
	require.NoError(t, err)
	assert.Len(t, forAlice, 1)
}

func TestMemoryRepository_UpdateStatus(t *testing.T) {
	repo := NewMemoryRepository()
	ctx := context.Background()

	require.NoError(t, repo.Create(ctx, &Transaction{ID: "trade-1", BuyerID: "a", SellerID: "b"}))

	require.NoError(t, repo.UpdateStatus(ctx, "trade-1", StatusInProgress))
	require.NoError(t, repo.UpdateStatus(ctx, "trade-1", StatusDisputed))

	// Disputed is terminal.
	err := repo.UpdateStatus(ctx, "trade-1", StatusCompleted)
	assert.ErrorIs(t, err, ErrInvalidTransition)
	assert.Contains(t, err.Error(), string(StatusDisputed))

	tx, err := repo.Get(ctx, "trade-1")
	require.NoError(t, err)
	assert.Equal(t, StatusDisputed, tx.Status)

	assert.ErrorIs(t, repo.UpdateStatus(ctx, "trade-404", StatusPaid), ErrNotFound)
}
