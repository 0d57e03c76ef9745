package repositories

import (
	"context"
	"database/sql"
	"errors"
	"fmt"

	"github.com/lib/pq"

	"github.com/Dosada05/typing-arena/storage"
)

var ErrStateTableMissing = errors.New("room_state table does not exist (run the migrate command)")

type postgresRoomStateRepository struct {
	db SQLExecutor
}

// NewPostgresRoomStateRepository returns a storage.StateStore backed by the room_state table.
func NewPostgresRoomStateRepository(db SQLExecutor) storage.StateStore {
	return &postgresRoomStateRepository{db: db}
}

func (r *postgresRoomStateRepository) Get(ctx context.Context, roomID, key string) ([]byte, error) {
	query := `SELECT blob FROM room_state WHERE room_id = $1 AND state_key = $2`

	var blob []byte
	err := r.db.QueryRowContext(ctx, query, roomID, key).Scan(&blob)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, storage.ErrNotFound
		}
		return nil, r.handleRoomStateError(err)
	}
	return blob, nil
}

func (r *postgresRoomStateRepository) Put(ctx context.Context, roomID, key string, blob []byte) error {
	query := `
		INSERT INTO room_state (room_id, state_key, blob, updated_at)
		VALUES ($1, $2, $3, NOW())
		ON CONFLICT (room_id, state_key)
		DO UPDATE SET blob = EXCLUDED.blob, updated_at = EXCLUDED.updated_at`

	result, err := r.db.ExecContext(ctx, query, roomID, key, blob)
	if err != nil {
		return r.handleRoomStateError(err)
	}
	return checkAffectedRows(result, fmt.Errorf("upsert of room %s/%s affected no rows", roomID, key))
}

func (r *postgresRoomStateRepository) Delete(ctx context.Context, roomID, key string) error {
	query := `DELETE FROM room_state WHERE room_id = $1 AND state_key = $2`
	if _, err := r.db.ExecContext(ctx, query, roomID, key); err != nil {
		return r.handleRoomStateError(err)
	}
	return nil
}

func (r *postgresRoomStateRepository) handleRoomStateError(err error) error {
	var pqErr *pq.Error
	if errors.As(err, &pqErr) && pqErr.Code == "42P01" {
		return ErrStateTableMissing
	}
	return err
}
