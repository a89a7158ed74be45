package postgres

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/quizduel/server/internal/game/question"
)

// Result is a single recorded correct answer.
type Result struct {
	ID         int64
	PlayerID   string
	Difficulty string
	CreatedAt  time.Time
}

// LeaderboardEntry aggregates a player's correct answers per tier.
type LeaderboardEntry struct {
	PlayerID string
	Easy     int
	Medium   int
	Hard     int
	Total    int
}

// ErrUnknownDifficulty is returned when a result carries a tier the
// schema does not recognise.
var ErrUnknownDifficulty = errors.New("unknown difficulty")

// ResultRepository persists correct-answer results.
type ResultRepository struct {
	db *pgxpool.Pool
}

// NewResultRepository creates a ResultRepository backed by the given pool.
//
// Precondition: db must be a valid, open connection pool.
func NewResultRepository(db *pgxpool.Pool) *ResultRepository {
	return &ResultRepository{db: db}
}

// RecordCorrectAnswer inserts a result row for the player at the given tier.
//
// Precondition: playerID must be non-empty.
// Postcondition: Returns nil on success, or ErrUnknownDifficulty if the
// tier fails the schema's difficulty constraint.
func (r *ResultRepository) RecordCorrectAnswer(ctx context.Context, playerID string, tier question.Tier) error {
	_, err := r.db.Exec(ctx,
		`INSERT INTO results (player_id, difficulty) VALUES ($1, $2)`,
		playerID, string(tier),
	)
	if err != nil {
		if isCheckViolation(err) {
			return fmt.Errorf("recording result for %q: %w", playerID, ErrUnknownDifficulty)
		}
		return fmt.Errorf("inserting result: %w", err)
	}
	return nil
}

// Leaderboard returns the top players ordered by total correct answers,
// with per-tier counts.
//
// Precondition: limit must be positive.
// Postcondition: Returns at most limit entries in descending total order.
func (r *ResultRepository) Leaderboard(ctx context.Context, limit int) ([]LeaderboardEntry, error) {
	rows, err := r.db.Query(ctx,
		`SELECT player_id,
		        COUNT(*) FILTER (WHERE difficulty = 'easy'),
		        COUNT(*) FILTER (WHERE difficulty = 'medium'),
		        COUNT(*) FILTER (WHERE difficulty = 'hard'),
		        COUNT(*)
		 FROM results
		 GROUP BY player_id
		 ORDER BY COUNT(*) DESC, player_id
		 LIMIT $1`,
		limit,
	)
	if err != nil {
		return nil, fmt.Errorf("querying leaderboard: %w", err)
	}
	defer rows.Close()

	var entries []LeaderboardEntry
	for rows.Next() {
		var e LeaderboardEntry
		if err := rows.Scan(&e.PlayerID, &e.Easy, &e.Medium, &e.Hard, &e.Total); err != nil {
			return nil, fmt.Errorf("scanning leaderboard row: %w", err)
		}
		entries = append(entries, e)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("reading leaderboard rows: %w", err)
	}
	return entries, nil
}

// RecentForPlayer returns a player's most recent results, newest first.
//
// Precondition: playerID must be non-empty; limit must be positive.
func (r *ResultRepository) RecentForPlayer(ctx context.Context, playerID string, limit int) ([]Result, error) {
	rows, err := r.db.Query(ctx,
		`SELECT id, player_id, difficulty, created_at
		 FROM results
		 WHERE player_id = $1
		 ORDER BY created_at DESC, id DESC
		 LIMIT $2`,
		playerID, limit,
	)
	if err != nil {
		return nil, fmt.Errorf("querying results for %q: %w", playerID, err)
	}
	defer rows.Close()

	var results []Result
	for rows.Next() {
		var res Result
		if err := rows.Scan(&res.ID, &res.PlayerID, &res.Difficulty, &res.CreatedAt); err != nil {
			return nil, fmt.Errorf("scanning result row: %w", err)
		}
		results = append(results, res)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("reading result rows: %w", err)
	}
	return results, nil
}

// TallyForPlayer returns a single player's aggregate entry.
//
// Postcondition: Returns the entry, or pgx.ErrNoRows wrapped if the
// player has no recorded results.
func (r *ResultRepository) TallyForPlayer(ctx context.Context, playerID string) (LeaderboardEntry, error) {
	var e LeaderboardEntry
	err := r.db.QueryRow(ctx,
		`SELECT player_id,
		        COUNT(*) FILTER (WHERE difficulty = 'easy'),
		        COUNT(*) FILTER (WHERE difficulty = 'medium'),
		        COUNT(*) FILTER (WHERE difficulty = 'hard'),
		        COUNT(*)
		 FROM results
		 WHERE player_id = $1
		 GROUP BY player_id`,
		playerID,
	).Scan(&e.PlayerID, &e.Easy, &e.Medium, &e.Hard, &e.Total)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return LeaderboardEntry{}, fmt.Errorf("no results for %q: %w", playerID, err)
		}
		return LeaderboardEntry{}, fmt.Errorf("querying player tally: %w", err)
	}
	return e, nil
}

// isCheckViolation checks if a pgx error is a check constraint violation.
func isCheckViolation(err error) bool {
	// pgx wraps PostgreSQL errors; check for SQLSTATE 23514 (check_violation)
	var pgErr interface{ SQLState() string }
	if errors.As(err, &pgErr) {
		return pgErr.SQLState() == "23514"
	}
	return false
}
