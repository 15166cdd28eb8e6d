package ledger

import "context"

// Named projections of the global chain. Each is a read-only filtered view;
// entries keep their global sequence numbers.

// EntriesForDocument returns the entries recorded against one document.
func EntriesForDocument(ctx context.Context, s Store, documentID string) ([]*Entry, error) {
	return s.Query(ctx, Filter{DocumentID: documentID})
}

// EntriesForTrade returns the entries recorded against one trade transaction.
func EntriesForTrade(ctx context.Context, s Store, tradeID string) ([]*Entry, error) {
	return s.Query(ctx, Filter{TradeID: tradeID})
}

// EntriesForActor returns the entries recorded by one actor.
func EntriesForActor(ctx context.Context, s Store, actorID string) ([]*Entry, error) {
	return s.Query(ctx, Filter{ActorID: actorID})
}
