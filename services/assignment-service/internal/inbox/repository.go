package inbox

import (
	"context"
	"errors"
	"sync"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/md-rashed-zaman/fieldassign/libs/db"
)

// Repository dedupes consumed events through the inbox_events table.
type Repository struct {
	pool *db.Pool
}

func NewRepository(pool *db.Pool) *Repository {
	return &Repository{pool: pool}
}

func (r *Repository) Seen(ctx context.Context, eventID string) (bool, error) {
	var one int
	err := r.pool.QueryRow(ctx, `SELECT 1 FROM inbox_events WHERE event_id = $1`, eventID).Scan(&one)
	if errors.Is(err, pgx.ErrNoRows) {
		return false, nil
	}
	return err == nil, err
}

// Record marks eventID handled. It reports false when it was already recorded.
func (r *Repository) Record(ctx context.Context, eventID, eventType string) (bool, error) {
	_, err := r.pool.Exec(ctx, `
		INSERT INTO inbox_events (event_id, event_type)
		VALUES ($1, $2)
	`, eventID, eventType)
	if err == nil {
		return true, nil
	}
	var pgErr *pgconn.PgError
	if errors.As(err, &pgErr) && pgErr.Code == "23505" {
		return false, nil
	}
	return false, err
}

// Memory is the inbox used when the service runs without a database.
type Memory struct {
	mu   sync.Mutex
	seen map[string]string
}

func NewMemory() *Memory {
	return &Memory{seen: map[string]string{}}
}

func (m *Memory) Seen(_ context.Context, eventID string) (bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	_, ok := m.seen[eventID]
	return ok, nil
}

func (m *Memory) Record(_ context.Context, eventID, eventType string) (bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, ok := m.seen[eventID]; ok {
		return false, nil
	}
	m.seen[eventID] = eventType
	return true, nil
}
