package postgres

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/dexbotio/dexbot/internal/domain"
)

// SnapshotStore implements domain.SnapshotStore on a positions table. Each
// position is stored as one JSONB row keyed by its ID; a snapshot write
// replaces the table contents in a single transaction so a partial write
// can never be observed by LoadSnapshot.
type SnapshotStore struct {
	pool *pgxpool.Pool
}

// NewSnapshotStore creates a SnapshotStore backed by the given pool.
func NewSnapshotStore(pool *pgxpool.Pool) *SnapshotStore {
	return &SnapshotStore{pool: pool}
}

// SaveSnapshot writes the full position set transactionally.
func (s *SnapshotStore) SaveSnapshot(ctx context.Context, positions []domain.Position) error {
	tx, err := s.pool.Begin(ctx)
	if err != nil {
		return fmt.Errorf("postgres: begin snapshot tx: %w", err)
	}
	defer func() { _ = tx.Rollback(ctx) }()

	if _, err := tx.Exec(ctx, `DELETE FROM positions`); err != nil {
		return fmt.Errorf("postgres: clear positions: %w", err)
	}

	const insert = `
		INSERT INTO positions (id, status, record, updated_at)
		VALUES ($1, $2, $3, NOW())`
	for i := range positions {
		p := positions[i]
		record, err := json.Marshal(p)
		if err != nil {
			return fmt.Errorf("postgres: marshal position %s: %w", p.ID, err)
		}
		if _, err := tx.Exec(ctx, insert, p.ID, string(p.Status), record); err != nil {
			return fmt.Errorf("postgres: insert position %s: %w", p.ID, err)
		}
	}

	if err := tx.Commit(ctx); err != nil {
		return fmt.Errorf("postgres: commit snapshot: %w", err)
	}
	return nil
}

// LoadSnapshot returns every stored position in ID order.
func (s *SnapshotStore) LoadSnapshot(ctx context.Context) ([]domain.Position, error) {
	rows, err := s.pool.Query(ctx, `SELECT record FROM positions ORDER BY id`)
	if err != nil {
		return nil, fmt.Errorf("postgres: load snapshot: %w", err)
	}
	defer rows.Close()

	var positions []domain.Position
	for rows.Next() {
		var record []byte
		if err := rows.Scan(&record); err != nil {
			return nil, fmt.Errorf("postgres: scan position: %w", err)
		}
		var p domain.Position
		if err := json.Unmarshal(record, &p); err != nil {
			return nil, fmt.Errorf("postgres: unmarshal position: %w", err)
		}
		positions = append(positions, p)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("postgres: load snapshot rows: %w", err)
	}
	return positions, nil
}

var _ domain.SnapshotStore = (*SnapshotStore)(nil)
