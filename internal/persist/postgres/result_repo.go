package postgres

import (
	"context"
	"errors"
	"fmt"

	"github.com/jackc/pgx/v5"
	"github.com/towerlords/matchserver/internal/scheduler"
)

// ResultRepo implements scheduler.ResultStore (C13/C14): the durable record
// of a finished match and its two players' final tower state.
type ResultRepo struct {
	db *DB
}

func NewResultRepo(db *DB) *ResultRepo {
	return &ResultRepo{db: db}
}

func (r *ResultRepo) SaveMatchResult(ctx context.Context, res scheduler.StoredResult) error {
	tx, err := r.db.Pool.Begin(ctx)
	if err != nil {
		return fmt.Errorf("save match result begin: %w", err)
	}
	defer tx.Rollback(ctx)

	_, err = tx.Exec(ctx,
		`INSERT INTO match_results (match_id, winner_id, rounds_played, finished_at)
		 VALUES ($1, $2, $3, $4)
		 ON CONFLICT (match_id) DO UPDATE
		   SET winner_id = EXCLUDED.winner_id,
		       rounds_played = EXCLUDED.rounds_played,
		       finished_at = EXCLUDED.finished_at`,
		res.MatchID, res.WinnerID, res.RoundsPlayed, res.FinishedAt,
	)
	if err != nil {
		return fmt.Errorf("save match result: %w", err)
	}

	for seat, p := range res.Players {
		if p == nil {
			continue
		}
		_, err = tx.Exec(ctx,
			`INSERT INTO match_result_players
			   (match_id, seat, user_id, tower_level, tower_hp, total_damage_in, total_damage_out, elimination_reason)
			 VALUES ($1, $2, $3, $4, $5, $6, $7, $8)
			 ON CONFLICT (match_id, seat) DO UPDATE
			   SET user_id = EXCLUDED.user_id,
			       tower_level = EXCLUDED.tower_level,
			       tower_hp = EXCLUDED.tower_hp,
			       total_damage_in = EXCLUDED.total_damage_in,
			       total_damage_out = EXCLUDED.total_damage_out,
			       elimination_reason = EXCLUDED.elimination_reason`,
			res.MatchID, seat, p.UserID, p.TowerLevel, p.TowerHP,
			p.TotalDamageIn, p.TotalDamageOut, string(p.EliminationReason),
		)
		if err != nil {
			return fmt.Errorf("save match result player: %w", err)
		}
	}

	if err := tx.Commit(ctx); err != nil {
		return fmt.Errorf("save match result commit: %w", err)
	}
	return nil
}

// MatchResult is the row the GET /matches/:id handler reads back.
type MatchResult struct {
	MatchID      string
	WinnerID     string
	RoundsPlayed int
}

// FindByID fetches a finished match's summary, or nil if it isn't finished
// (or doesn't exist) yet.
func (r *ResultRepo) FindByID(ctx context.Context, matchID string) (*MatchResult, error) {
	row := &MatchResult{}
	err := r.db.Pool.QueryRow(ctx,
		`SELECT match_id, winner_id, rounds_played FROM match_results WHERE match_id = $1`,
		matchID,
	).Scan(&row.MatchID, &row.WinnerID, &row.RoundsPlayed)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("find match result: %w", err)
	}
	return row, nil
}
