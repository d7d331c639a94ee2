package store

import (
	"context"
	"fmt"
	"time"

	"attendsync/internal/models"
)

func (s *Store) InsertCameraTransition(ctx context.Context, tr models.CameraTransition) error {
	_, err := s.db.ExecContext(ctx,
		`INSERT INTO camera_transitions (from_state, to_state, holder_id, request_id, detail, occurred_at)
		 VALUES (?, ?, ?, ?, ?, ?)`,
		tr.FromState, tr.ToState, tr.HolderID, tr.RequestID, tr.Detail, formatTime(tr.OccurredAt))
	if err != nil {
		return fmt.Errorf("inserting camera transition: %w", err)
	}
	return nil
}

// ListCameraTransitions returns the most recent transitions, oldest first.
func (s *Store) ListCameraTransitions(ctx context.Context, limit int) ([]models.CameraTransition, error) {
	if limit <= 0 {
		limit = DefaultEventListLimit
	}
	rows, err := s.db.QueryContext(ctx,
		`SELECT id, from_state, to_state, holder_id, request_id, detail, occurred_at FROM (
		   SELECT * FROM camera_transitions ORDER BY id DESC LIMIT ?
		 ) ORDER BY id ASC`, limit)
	if err != nil {
		return nil, fmt.Errorf("listing camera transitions: %w", err)
	}
	defer rows.Close()

	out := []models.CameraTransition{}
	for rows.Next() {
		var (
			tr models.CameraTransition
			at string
		)
		if err := rows.Scan(&tr.ID, &tr.FromState, &tr.ToState, &tr.HolderID, &tr.RequestID, &tr.Detail, &at); err != nil {
			return nil, fmt.Errorf("scanning camera transition: %w", err)
		}
		if tr.OccurredAt, err = parseTime(at); err != nil {
			return nil, err
		}
		out = append(out, tr)
	}
	return out, rows.Err()
}

func (s *Store) DeleteCameraTransitionsBefore(ctx context.Context, cutoff time.Time) (int64, error) {
	res, err := s.db.ExecContext(ctx, `DELETE FROM camera_transitions WHERE occurred_at < ?`, formatTime(cutoff))
	if err != nil {
		return 0, fmt.Errorf("pruning camera transitions: %w", err)
	}
	return res.RowsAffected()
}
