package repository

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/go-faster/errors"
	"github.com/jackc/pgx/v5"

	"github.com/xenking/teamcart/internal/domain/teamcart"
	"github.com/xenking/teamcart/internal/service"
)

const (
	getTeamCartSQL = `SELECT state FROM teamcarts WHERE id = $1`

	getTeamCartForUpdateSQL = `SELECT state FROM teamcarts WHERE id = $1 FOR UPDATE`

	createTeamCartSQL = `INSERT INTO teamcarts (id, status, deadline, state, created_at, updated_at)
		VALUES ($1, $2, $3, $4, $5, $5)`

	updateTeamCartSQL = `UPDATE teamcarts SET status = $2, deadline = $3, state = $4, updated_at = now()
		WHERE id = $1`

	listExpiredTeamCartsSQL = `SELECT id FROM teamcarts
		WHERE deadline <= $1 AND status = ANY($2)
		ORDER BY deadline LIMIT $3`
)

var _ service.TeamCartRepository = (*TeamCartRepository)(nil)

// TeamCartRepository stores carts as JSONB snapshots. Status and deadline are
// duplicated into columns for the expiry sweep.
type TeamCartRepository struct {
	db DBTX
}

// NewTeamCartRepository returns a TeamCartRepository that uses db.
func NewTeamCartRepository(db DBTX) *TeamCartRepository {
	return &TeamCartRepository{db: db}
}

func (r *TeamCartRepository) Get(ctx context.Context, id teamcart.CartID) (*teamcart.TeamCart, error) {
	return r.load(ctx, getTeamCartSQL, id)
}

// GetForUpdate locks the cart row until the surrounding transaction ends.
func (r *TeamCartRepository) GetForUpdate(ctx context.Context, id teamcart.CartID) (*teamcart.TeamCart, error) {
	return r.load(ctx, getTeamCartForUpdateSQL, id)
}

func (r *TeamCartRepository) load(ctx context.Context, query string, id teamcart.CartID) (*teamcart.TeamCart, error) {
	var state []byte
	if err := r.db.QueryRow(ctx, query, string(id)).Scan(&state); err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, teamcart.ErrNotFound
		}
		return nil, fmt.Errorf("getting teamcart %q: %w", id, err)
	}

	var s teamcart.Snapshot
	if err := json.Unmarshal(state, &s); err != nil {
		return nil, fmt.Errorf("decoding teamcart %q: %w", id, err)
	}
	return teamcart.Restore(s), nil
}

func (r *TeamCartRepository) Create(ctx context.Context, c *teamcart.TeamCart) error {
	state, err := json.Marshal(c.Snapshot())
	if err != nil {
		return fmt.Errorf("encoding teamcart %q: %w", c.ID(), err)
	}

	_, err = r.db.Exec(ctx, createTeamCartSQL,
		string(c.ID()), string(c.Status()), c.Deadline(), state, c.CreatedAt(),
	)
	if err != nil {
		return fmt.Errorf("creating teamcart %q: %w", c.ID(), err)
	}
	return nil
}

func (r *TeamCartRepository) Update(ctx context.Context, c *teamcart.TeamCart) error {
	state, err := json.Marshal(c.Snapshot())
	if err != nil {
		return fmt.Errorf("encoding teamcart %q: %w", c.ID(), err)
	}

	tag, err := r.db.Exec(ctx, updateTeamCartSQL,
		string(c.ID()), string(c.Status()), c.Deadline(), state,
	)
	if err != nil {
		return fmt.Errorf("updating teamcart %q: %w", c.ID(), err)
	}
	if tag.RowsAffected() == 0 {
		return teamcart.ErrNotFound
	}
	return nil
}

// ListExpired returns up to limit non-terminal carts whose deadline passed,
// oldest deadline first.
func (r *TeamCartRepository) ListExpired(ctx context.Context, now time.Time, limit int) ([]teamcart.CartID, error) {
	statuses := make([]string, len(teamcart.NonTerminal))
	for i, s := range teamcart.NonTerminal {
		statuses[i] = string(s)
	}

	rows, err := r.db.Query(ctx, listExpiredTeamCartsSQL, now, statuses, limit)
	if err != nil {
		return nil, fmt.Errorf("listing expired teamcarts: %w", err)
	}
	return pgx.CollectRows(rows, func(row pgx.CollectableRow) (teamcart.CartID, error) {
		var id string
		err := row.Scan(&id)
		return teamcart.CartID(id), err
	})
}
