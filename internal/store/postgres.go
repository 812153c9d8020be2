// internal/store/postgres.go
package store

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/statroom/statroom/internal/models"
	"github.com/statroom/statroom/internal/room"
)

// PostgresStore persists room documents in a rooms table:
//
//	CREATE TABLE rooms (
//	    code       TEXT PRIMARY KEY,
//	    doc        JSONB NOT NULL,
//	    updated_at TIMESTAMPTZ NOT NULL
//	);
//
// The player list is stored as a single JSONB document, matching the wire
// snapshot, so reads and writes are whole-room and the engine's per-room
// lock is the only writer at any moment.
type PostgresStore struct {
	pool *pgxpool.Pool
}

func NewPostgresStore(pool *pgxpool.Pool) *PostgresStore {
	return &PostgresStore{pool: pool}
}

func (s *PostgresStore) CreateRoom(ctx context.Context, r *models.Room) error {
	doc, err := json.Marshal(r.Players)
	if err != nil {
		return fmt.Errorf("failed to marshal room doc: %w", err)
	}

	q := `INSERT INTO rooms (code, doc, updated_at) VALUES ($1, $2, $3)`
	err = pgx.BeginTxFunc(ctx, s.pool, pgx.TxOptions{}, func(tx pgx.Tx) error {
		_, execErr := tx.Exec(ctx, q, r.RoomCode, doc, r.UpdatedAt)
		return execErr
	})
	if err != nil {
		var pgErr *pgconn.PgError
		if errors.As(err, &pgErr) && pgErr.Code == "23505" { // unique_violation
			return room.ErrRoomExists
		}
		return fmt.Errorf("failed to insert room %s: %w", r.RoomCode, err)
	}
	return nil
}

func (s *PostgresStore) GetRoom(ctx context.Context, code string) (*models.Room, error) {
	r := &models.Room{RoomCode: models.NormalizeRoomCode(code)}

	var doc []byte
	q := `SELECT doc, updated_at FROM rooms WHERE code = $1`
	err := s.pool.QueryRow(ctx, q, r.RoomCode).Scan(&doc, &r.UpdatedAt)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, room.ErrRoomNotFound
		}
		return nil, fmt.Errorf("failed to fetch room %s: %w", r.RoomCode, err)
	}

	if err := json.Unmarshal(doc, &r.Players); err != nil {
		return nil, fmt.Errorf("corrupt room doc for %s: %w", r.RoomCode, err)
	}
	if r.Players == nil {
		r.Players = []*models.Player{}
	}
	return r, nil
}

func (s *PostgresStore) SaveRoom(ctx context.Context, r *models.Room) error {
	doc, err := json.Marshal(r.Players)
	if err != nil {
		return fmt.Errorf("failed to marshal room doc: %w", err)
	}

	q := `UPDATE rooms SET doc = $2, updated_at = $3 WHERE code = $1`
	var tag pgconn.CommandTag
	err = pgx.BeginTxFunc(ctx, s.pool, pgx.TxOptions{}, func(tx pgx.Tx) error {
		var execErr error
		tag, execErr = tx.Exec(ctx, q, r.RoomCode, doc, r.UpdatedAt)
		return execErr
	})
	if err != nil {
		return fmt.Errorf("failed to save room %s: %w", r.RoomCode, err)
	}
	if tag.RowsAffected() == 0 {
		return room.ErrRoomNotFound
	}
	return nil
}

func (s *PostgresStore) DeleteRoom(ctx context.Context, code string) error {
	q := `DELETE FROM rooms WHERE code = $1`
	return pgx.BeginTxFunc(ctx, s.pool, pgx.TxOptions{}, func(tx pgx.Tx) error {
		_, err := tx.Exec(ctx, q, models.NormalizeRoomCode(code))
		return err
	})
}

func (s *PostgresStore) ListIdleRooms(ctx context.Context, olderThan time.Time) ([]string, error) {
	q := `SELECT code FROM rooms WHERE updated_at < $1`
	rows, err := s.pool.Query(ctx, q, olderThan)
	if err != nil {
		return nil, fmt.Errorf("failed to list idle rooms: %w", err)
	}
	defer rows.Close()

	var codes []string
	for rows.Next() {
		var code string
		if err := rows.Scan(&code); err != nil {
			return nil, err
		}
		codes = append(codes, code)
	}
	return codes, rows.Err()
}
