package sqlite

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"log/slog"
	"sync/atomic"

	"github.com/ghsync/ghmirror/internal/model"
)

// Queue is the durable request queue: table request, keyed by
// (category, sequence_number). The sequence counter is a single atomic
// fetch-add seeded at construction from MAX(sequence_number)+1, per the
// strict-monotonicity invariant (P1).
type Queue struct {
	store *Store
	log   *slog.Logger
	seq   atomic.Int64
}

// NewQueue constructs a Queue over store, resuming the sequence counter
// from the highest sequence_number already persisted.
func NewQueue(ctx context.Context, store *Store, log *slog.Logger) (*Queue, error) {
	var max sql.NullInt64
	err := store.db.QueryRowContext(ctx, `SELECT MAX(sequence_number) FROM request`).Scan(&max)
	if err != nil {
		return nil, fmt.Errorf("read max sequence number: %w", err)
	}
	q := &Queue{store: store, log: log}
	if max.Valid {
		q.seq.Store(max.Int64 + 1)
	}
	return q, nil
}

// Enqueue allocates the next sequence number and inserts req in a
// single write transaction. A sequence_number collision (two Queue
// instances racing over the same store without coordination) violates
// the request table's primary key and surfaces as ErrConflict, per the
// "store invariant violation" error kind of §7: logged by the caller
// and the mutation abandoned, never fatal.
func (q *Queue) Enqueue(ctx context.Context, category model.Category, name model.RequestName, req *model.Request) error {
	req.Category = category
	req.Name = name
	data, err := req.Encode()
	if err != nil {
		return fmt.Errorf("encode request %s: %w", name, err)
	}

	seq := q.seq.Add(1) - 1
	req.SequenceNumber = seq

	return withTx(ctx, q.store.db, func(conn *sql.Conn) error {
		_, err := conn.ExecContext(ctx,
			`INSERT INTO request (sequence_number, category, name, data) VALUES (?, ?, ?, ?)`,
			seq, int(category), string(name), data)
		if err != nil {
			return wrapDBErrorf(err, "enqueue %s", name)
		}
		return nil
	})
}

// Dequeue returns the oldest (lowest sequence_number) request in
// category c, deleting it in the same transaction. It returns (nil,
// nil) when the category is empty. A row whose payload fails to
// deserialize is logged and deleted; Dequeue then continues to the
// next candidate rather than blocking the category on one poisoned
// entry (P7, §4.2).
func (q *Queue) Dequeue(ctx context.Context, c model.Category) (*model.Request, error) {
	for {
		var (
			seq  int64
			name string
			data []byte
		)
		err := withTx(ctx, q.store.db, func(conn *sql.Conn) error {
			row := conn.QueryRowContext(ctx,
				`SELECT sequence_number, name, data FROM request WHERE category = ? ORDER BY sequence_number ASC LIMIT 1`,
				int(c))
			if err := row.Scan(&seq, &name, &data); err != nil {
				if errors.Is(err, sql.ErrNoRows) {
					seq = -1
					return nil
				}
				return wrapDBError("dequeue scan", err)
			}
			_, err := conn.ExecContext(ctx, `DELETE FROM request WHERE sequence_number = ?`, seq)
			return err
		})
		if err != nil {
			return nil, err
		}
		if seq == -1 {
			return nil, nil
		}

		req, err := decodeQueuedPayload(model.RequestName(name), data)
		if err != nil {
			q.log.Warn("dropping poisoned queue entry", "sequence_number", seq, "name", name, "error", err)
			continue
		}
		req.SequenceNumber = seq
		req.Category = c
		return req, nil
	}
}

// decodeQueuedPayload decodes a queue row's data column, wrapping any
// deserialization failure in ErrPoisonPayload so the few callers that
// care (tests, and anyone auditing a dropped row) can tell it apart
// from other decode errors with errors.Is.
func decodeQueuedPayload(name model.RequestName, data []byte) (*model.Request, error) {
	req, err := model.DecodeRequestPayload(name, data)
	if err != nil {
		return nil, fmt.Errorf("decode queued payload %s: %w: %w", name, ErrPoisonPayload, err)
	}
	return req, nil
}

// HasPending reports whether a list request with the given name for
// repo already exists in the queue, used by seeding to avoid duplicating an
// Old* traversal that is already queued.
func (q *Queue) HasPending(ctx context.Context, name model.RequestName, repo model.Repo) (bool, error) {
	rows, err := q.store.db.QueryContext(ctx, `SELECT data FROM request WHERE name = ?`, string(name))
	if err != nil {
		return false, wrapDBError("scan pending requests", err)
	}
	defer func() { _ = rows.Close() }()

	for rows.Next() {
		var data []byte
		if err := rows.Scan(&data); err != nil {
			return false, err
		}
		req, err := decodeQueuedPayload(name, data)
		if err != nil {
			continue
		}
		if req.List != nil && req.List.Repo == repo {
			return true, nil
		}
	}
	return false, rows.Err()
}
