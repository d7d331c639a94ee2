package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"attendsync/internal/models"
)

const sessionColumns = `id, course_name, professor_name, otp_sealed, otp_plain, qr_code_url, expires_at, created_at, closed_at`

// SaveSession inserts or replaces a session row. The OTP is sealed with the
// session id as associated data when the store has an encryptor.
func (s *Store) SaveSession(ctx context.Context, sess *models.Session) error {
	if sess.ID == "" {
		return fmt.Errorf("saving session: empty id")
	}
	sealed, plain, err := s.sealOTP(sess)
	if err != nil {
		return err
	}

	var closed any
	if sess.ClosedAt != nil {
		closed = formatTime(*sess.ClosedAt)
	}
	_, err = s.db.ExecContext(ctx,
		`INSERT INTO class_sessions (`+sessionColumns+`)
		 VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)
		 ON CONFLICT(id) DO UPDATE SET
		   course_name = excluded.course_name,
		   professor_name = excluded.professor_name,
		   otp_sealed = excluded.otp_sealed,
		   otp_plain = excluded.otp_plain,
		   qr_code_url = excluded.qr_code_url,
		   expires_at = excluded.expires_at,
		   closed_at = excluded.closed_at`,
		sess.ID, sess.CourseName, sess.ProfessorName, sealed, plain, sess.QRCodeURL,
		formatTime(sess.ExpiresAt), formatTime(sess.CreatedAt), closed,
	)
	if err != nil {
		return fmt.Errorf("saving session %s: %w", sess.ID, err)
	}
	return nil
}

func (s *Store) GetSession(ctx context.Context, id string) (*models.Session, error) {
	sess, err := s.scanSession(s.db.QueryRowContext(ctx,
		`SELECT `+sessionColumns+` FROM class_sessions WHERE id = ?`, id))
	if errors.Is(err, sql.ErrNoRows) {
		return nil, fmt.Errorf("session %q: %w", id, models.ErrNotFound)
	}
	if err != nil {
		return nil, fmt.Errorf("getting session: %w", err)
	}
	return sess, nil
}

// ActiveSession returns the most recently created session that is neither
// closed nor expired at now.
func (s *Store) ActiveSession(ctx context.Context, now time.Time) (*models.Session, error) {
	sess, err := s.scanSession(s.db.QueryRowContext(ctx,
		`SELECT `+sessionColumns+` FROM class_sessions
		 WHERE closed_at IS NULL AND expires_at > ?
		 ORDER BY created_at DESC LIMIT 1`, formatTime(now)))
	if errors.Is(err, sql.ErrNoRows) {
		return nil, fmt.Errorf("active session: %w", models.ErrNotFound)
	}
	if err != nil {
		return nil, fmt.Errorf("getting active session: %w", err)
	}
	return sess, nil
}

// CloseSession marks an open session closed. Closing an unknown or already
// closed session returns models.ErrNotFound.
func (s *Store) CloseSession(ctx context.Context, id string, at time.Time) error {
	res, err := s.db.ExecContext(ctx,
		`UPDATE class_sessions SET closed_at = ? WHERE id = ? AND closed_at IS NULL`,
		formatTime(at), id)
	if err != nil {
		return fmt.Errorf("closing session: %w", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return err
	}
	if n == 0 {
		return fmt.Errorf("session %q: %w", id, models.ErrNotFound)
	}
	return nil
}

// CloseExpiredSessions closes every open session whose expiry has passed.
func (s *Store) CloseExpiredSessions(ctx context.Context, now time.Time) (int64, error) {
	res, err := s.db.ExecContext(ctx,
		`UPDATE class_sessions SET closed_at = expires_at WHERE closed_at IS NULL AND expires_at <= ?`,
		formatTime(now))
	if err != nil {
		return 0, fmt.Errorf("closing expired sessions: %w", err)
	}
	return res.RowsAffected()
}

func (s *Store) sealOTP(sess *models.Session) (sealed, plain string, err error) {
	if sess.OTP == "" {
		return "", "", nil
	}
	if s.encryptor == nil {
		return "", sess.OTP, nil
	}
	sealed, err = s.encryptor.Seal(sess.OTP, sess.ID)
	if err != nil {
		return "", "", fmt.Errorf("sealing session code: %w", err)
	}
	return sealed, "", nil
}

func (s *Store) scanSession(row *sql.Row) (*models.Session, error) {
	var (
		sess                 models.Session
		sealed, plain        string
		expiresAt, createdAt string
		closedAt             sql.NullString
	)
	if err := row.Scan(&sess.ID, &sess.CourseName, &sess.ProfessorName, &sealed, &plain,
		&sess.QRCodeURL, &expiresAt, &createdAt, &closedAt); err != nil {
		return nil, err
	}

	var err error
	if sess.ExpiresAt, err = parseTime(expiresAt); err != nil {
		return nil, err
	}
	if sess.CreatedAt, err = parseTime(createdAt); err != nil {
		return nil, err
	}
	if sess.ClosedAt, err = parseNullTime(closedAt); err != nil {
		return nil, err
	}

	switch {
	case sealed != "" && s.encryptor != nil:
		otp, err := s.encryptor.Open(sealed, sess.ID)
		if err != nil {
			return nil, fmt.Errorf("opening session code: %w", err)
		}
		sess.OTP = otp
	case sealed != "":
		// Sealed under a key this process was not given; leave the code blank.
	default:
		sess.OTP = plain
	}
	return &sess, nil
}
