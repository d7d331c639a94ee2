package store

import (
	"context"
	"fmt"
	"time"

	"attendsync/internal/models"
)

const DefaultEventListLimit = 100

// InsertChangeEvents appends a batch of change events in one transaction.
func (s *Store) InsertChangeEvents(ctx context.Context, events []models.ChangeEventRecord) error {
	if len(events) == 0 {
		return nil
	}
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("beginning change event insert: %w", err)
	}
	defer tx.Rollback()

	stmt, err := tx.PrepareContext(ctx,
		`INSERT INTO change_events (feed, item_key, label, observed_at) VALUES (?, ?, ?, ?)`)
	if err != nil {
		return fmt.Errorf("preparing change event insert: %w", err)
	}
	defer stmt.Close()

	for _, e := range events {
		if _, err := stmt.ExecContext(ctx, e.Feed, e.ItemKey, e.Label, formatTime(e.ObservedAt)); err != nil {
			return fmt.Errorf("inserting change event %s/%s: %w", e.Feed, e.ItemKey, err)
		}
	}
	return tx.Commit()
}

// ListChangeEvents returns the newest events first. An empty feed lists all
// feeds; a non-positive limit uses DefaultEventListLimit.
func (s *Store) ListChangeEvents(ctx context.Context, feed string, limit int) ([]models.ChangeEventRecord, error) {
	if limit <= 0 {
		limit = DefaultEventListLimit
	}
	rows, err := s.db.QueryContext(ctx,
		`SELECT id, feed, item_key, label, observed_at FROM change_events
		 WHERE (? = '' OR feed = ?)
		 ORDER BY observed_at DESC, id DESC LIMIT ?`, feed, feed, limit)
	if err != nil {
		return nil, fmt.Errorf("listing change events: %w", err)
	}
	defer rows.Close()

	events := []models.ChangeEventRecord{}
	for rows.Next() {
		var (
			e  models.ChangeEventRecord
			at string
		)
		if err := rows.Scan(&e.ID, &e.Feed, &e.ItemKey, &e.Label, &at); err != nil {
			return nil, fmt.Errorf("scanning change event: %w", err)
		}
		if e.ObservedAt, err = parseTime(at); err != nil {
			return nil, err
		}
		events = append(events, e)
	}
	return events, rows.Err()
}

func (s *Store) DeleteChangeEventsBefore(ctx context.Context, cutoff time.Time) (int64, error) {
	res, err := s.db.ExecContext(ctx, `DELETE FROM change_events WHERE observed_at < ?`, formatTime(cutoff))
	if err != nil {
		return 0, fmt.Errorf("pruning change events: %w", err)
	}
	return res.RowsAffected()
}
