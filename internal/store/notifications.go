package store

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	"github.com/google/uuid"

	"github.com/contribium/contribium/internal/model"
	"github.com/contribium/contribium/internal/notify"
	"github.com/contribium/contribium/internal/realtime"
)

func (s *SQLiteStore) CreateNotification(ctx context.Context, n *model.Notification) error {
	if n.UserID == "" || n.Title == "" || !n.Type.Valid() {
		return fmt.Errorf("create notification: %w", ErrInvalid)
	}
	if n.ID == "" {
		n.ID = uuid.New().String()
	}
	if n.CreatedAt.IsZero() {
		n.CreatedAt = time.Now().UTC()
	}

	_, err := s.db.ExecContext(ctx, `
		INSERT INTO notifications (id, user_id, type, title, message, is_read, related_bounty_id, related_submission_id, created_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)
	`, n.ID, n.UserID, string(n.Type), n.Title, n.Message, boolToInt(n.Read),
		nullString(n.BountyID), nullString(n.SubmissionID), n.CreatedAt)
	if err != nil {
		return err
	}

	s.publish(realtime.NotificationsTopic(n.UserID), realtime.OpInsert, n.ID, n)
	return nil
}

// ListNotifications returns up to limit notifications for userID, newest first.
func (s *SQLiteStore) ListNotifications(ctx context.Context, userID string, limit int) ([]model.Notification, error) {
	if limit <= 0 {
		limit = notify.DefaultLimit
	}

	rows, err := s.db.QueryContext(ctx, `
		SELECT id, user_id, type, title, message, is_read, related_bounty_id, related_submission_id, created_at, read_at
		FROM notifications WHERE user_id = ?
		ORDER BY created_at DESC
		LIMIT ?
	`, userID, limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []model.Notification
	for rows.Next() {
		var n model.Notification
		var typ string
		var read int
		var bountyID, submissionID sql.NullString
		var readAt sql.NullTime

		err := rows.Scan(&n.ID, &n.UserID, &typ, &n.Title, &n.Message, &read,
			&bountyID, &submissionID, &n.CreatedAt, &readAt)
		if err != nil {
			return nil, err
		}

		n.Type = model.NotificationType(typ)
		n.Read = read == 1
		n.BountyID = bountyID.String
		n.SubmissionID = submissionID.String
		if readAt.Valid {
			n.ReadAt = &readAt.Time
		}
		out = append(out, n)
	}

	return out, rows.Err()
}

func (s *SQLiteStore) CountUnread(ctx context.Context, userID string) (int, error) {
	var n int
	err := s.db.QueryRowContext(ctx, `
		SELECT COUNT(*) FROM notifications WHERE user_id = ? AND is_read = 0
	`, userID).Scan(&n)
	return n, err
}

func (s *SQLiteStore) MarkNotificationRead(ctx context.Context, id, userID string) error {
	res, err := s.db.ExecContext(ctx, `
		UPDATE notifications SET is_read = 1, read_at = COALESCE(read_at, ?)
		WHERE id = ? AND user_id = ?
	`, time.Now().UTC(), id, userID)
	if err != nil {
		return err
	}
	return requireRow(res)
}

func (s *SQLiteStore) MarkAllNotificationsRead(ctx context.Context, userID string) error {
	_, err := s.db.ExecContext(ctx, `
		UPDATE notifications SET is_read = 1, read_at = ?
		WHERE user_id = ? AND is_read = 0
	`, time.Now().UTC(), userID)
	return err
}

func (s *SQLiteStore) DeleteNotification(ctx context.Context, id, userID string) error {
	res, err := s.db.ExecContext(ctx, `DELETE FROM notifications WHERE id = ? AND user_id = ?`, id, userID)
	if err != nil {
		return err
	}
	return requireRow(res)
}

func requireRow(res sql.Result) error {
	n, err := res.RowsAffected()
	if err != nil {
		return err
	}
	if n == 0 {
		return ErrNotFound
	}
	return nil
}
