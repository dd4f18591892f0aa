package postgres

import (
	"context"
	"fmt"

	"github.com/towerlords/matchserver/internal/scheduler"
)

// ResultLedger is the scheduler.RoundLedger adapter: a write-ahead table of
// fought rounds, the same append-then-mark-processed shape the reference
// server's WALRepo gives economic trades.
type ResultLedger struct {
	db *DB
}

func NewResultLedger(db *DB) *ResultLedger {
	return &ResultLedger{db: db}
}

func (r *ResultLedger) AppendRound(ctx context.Context, entry scheduler.RoundLedgerEntry) error {
	_, err := r.db.Pool.Exec(ctx,
		`INSERT INTO round_ledger (match_id, round, winner_side, a_tower_hp, b_tower_hp)
		 VALUES ($1, $2, $3, $4, $5)`,
		entry.MatchID, entry.Round, string(entry.Winner), entry.ATowerHP, entry.BTowerHP,
	)
	if err != nil {
		return fmt.Errorf("append round ledger: %w", err)
	}
	return nil
}

// MarkProcessed marks matchID's ledger rows processed once its
// StoredResult has committed, so crash recovery never replays a match
// whose final result is already durable.
func (r *ResultLedger) MarkProcessed(ctx context.Context, matchID string) error {
	_, err := r.db.Pool.Exec(ctx,
		`UPDATE round_ledger SET processed = TRUE WHERE match_id = $1 AND NOT processed`,
		matchID,
	)
	if err != nil {
		return fmt.Errorf("mark round ledger processed: %w", err)
	}
	return nil
}
