package store

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	_ "github.com/mattn/go-sqlite3"
	"go.uber.org/zap"

	"github.com/contribium/contribium/internal/comments"
	"github.com/contribium/contribium/internal/model"
	"github.com/contribium/contribium/internal/notify"
	"github.com/contribium/contribium/internal/realtime"
)

type SQLiteStore struct {
	db     *sql.DB
	pub    realtime.Publisher
	logger *zap.Logger
}

// NewSQLiteStore opens the database at path. Confirmed changes to comments
// and notifications are published to pub when it is not nil.
func NewSQLiteStore(path string, pub realtime.Publisher, logger *zap.Logger) (*SQLiteStore, error) {
	db, err := sql.Open("sqlite3", path+"?_foreign_keys=on&_journal_mode=WAL&_busy_timeout=5000")
	if err != nil {
		return nil, err
	}
	if logger == nil {
		logger = zap.NewNop()
	}

	store := &SQLiteStore{db: db, pub: pub, logger: logger.Named("store")}
	if err := store.migrate(); err != nil {
		db.Close()
		return nil, err
	}

	return store, nil
}

func (s *SQLiteStore) migrate() error {
	schema := `
	CREATE TABLE IF NOT EXISTS users (
		id TEXT PRIMARY KEY,
		display_name TEXT NOT NULL,
		username TEXT UNIQUE,
		avatar_url TEXT,
		created_at DATETIME DEFAULT CURRENT_TIMESTAMP
	);

	CREATE TABLE IF NOT EXISTS tokens (
		id TEXT PRIMARY KEY,
		user_id TEXT NOT NULL,
		token TEXT NOT NULL UNIQUE,
		expires_at DATETIME NOT NULL,
		FOREIGN KEY (user_id) REFERENCES users(id) ON DELETE CASCADE
	);

	CREATE INDEX IF NOT EXISTS idx_tokens_token ON tokens(token);

	CREATE TABLE IF NOT EXISTS bounties (
		id TEXT PRIMARY KEY,
		title TEXT NOT NULL,
		description TEXT,
		sponsor_user_id TEXT NOT NULL,
		reward_total REAL DEFAULT 0,
		reward_token TEXT NOT NULL DEFAULT 'USDC',
		is_tiered_reward INTEGER DEFAULT 0,
		reward_tiers TEXT,
		created_at DATETIME DEFAULT CURRENT_TIMESTAMP,
		FOREIGN KEY (sponsor_user_id) REFERENCES users(id)
	);

	CREATE INDEX IF NOT EXISTS idx_bounties_created_at ON bounties(created_at);

	CREATE TABLE IF NOT EXISTS bounty_comments (
		id TEXT PRIMARY KEY,
		bounty_id TEXT NOT NULL,
		user_id TEXT NOT NULL,
		parent_comment_id TEXT,
		content TEXT NOT NULL,
		like_count INTEGER NOT NULL DEFAULT 0 CHECK (like_count >= 0),
		created_at DATETIME DEFAULT CURRENT_TIMESTAMP,
		updated_at DATETIME,
		FOREIGN KEY (bounty_id) REFERENCES bounties(id) ON DELETE CASCADE,
		FOREIGN KEY (user_id) REFERENCES users(id),
		FOREIGN KEY (parent_comment_id) REFERENCES bounty_comments(id) ON DELETE CASCADE
	);

	CREATE INDEX IF NOT EXISTS idx_bounty_comments_bounty ON bounty_comments(bounty_id, created_at);
	CREATE INDEX IF NOT EXISTS idx_bounty_comments_parent ON bounty_comments(parent_comment_id);

	CREATE TABLE IF NOT EXISTS comment_likes (
		comment_id TEXT NOT NULL,
		user_id TEXT NOT NULL,
		created_at DATETIME DEFAULT CURRENT_TIMESTAMP,
		PRIMARY KEY (comment_id, user_id),
		FOREIGN KEY (comment_id) REFERENCES bounty_comments(id) ON DELETE CASCADE
	);

	CREATE TABLE IF NOT EXISTS notifications (
		id TEXT PRIMARY KEY,
		user_id TEXT NOT NULL,
		type TEXT NOT NULL,
		title TEXT NOT NULL,
		message TEXT NOT NULL,
		is_read INTEGER NOT NULL DEFAULT 0,
		related_bounty_id TEXT,
		related_submission_id TEXT,
		created_at DATETIME DEFAULT CURRENT_TIMESTAMP,
		read_at DATETIME
	);

	CREATE INDEX IF NOT EXISTS idx_notifications_user ON notifications(user_id, created_at);
	CREATE INDEX IF NOT EXISTS idx_notifications_unread ON notifications(user_id, is_read);
	`

	_, err := s.db.Exec(schema)
	return err
}

func (s *SQLiteStore) Close() error {
	return s.db.Close()
}

// publish hands a confirmed change to the push source. Encoding failures are
// logged; the write itself already succeeded.
func (s *SQLiteStore) publish(topic string, op realtime.Op, id string, record any) {
	if s.pub == nil {
		return
	}
	ev, err := realtime.NewEvent(topic, op, id, record)
	if err != nil {
		s.logger.Error("build change event failed", zap.String("topic", topic), zap.Error(err))
		return
	}
	s.pub.Publish(ev)
}

// Users

func (s *SQLiteStore) CreateUser(ctx context.Context, user *User) error {
	if user.ID == "" {
		user.ID = uuid.New().String()
	}
	if user.CreatedAt.IsZero() {
		user.CreatedAt = time.Now().UTC()
	}

	_, err := s.db.ExecContext(ctx, `
		INSERT INTO users (id, display_name, username, avatar_url, created_at)
		VALUES (?, ?, ?, ?, ?)
	`, user.ID, user.DisplayName, nullString(user.Username), nullString(user.AvatarURL), user.CreatedAt)

	return err
}

func (s *SQLiteStore) GetUser(ctx context.Context, id string) (*User, error) {
	row := s.db.QueryRowContext(ctx, `
		SELECT id, display_name, username, avatar_url, created_at
		FROM users WHERE id = ?
	`, id)

	var user User
	var username, avatarURL sql.NullString
	err := row.Scan(&user.ID, &user.DisplayName, &username, &avatarURL, &user.CreatedAt)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, err
	}

	user.Username = username.String
	user.AvatarURL = avatarURL.String
	return &user, nil
}

// Auth

func (s *SQLiteStore) CreateToken(ctx context.Context, token *Token) error {
	if token.ID == "" {
		token.ID = uuid.New().String()
	}

	// Format time in SQLite-compatible format for proper datetime comparison
	expiresAtStr := token.ExpiresAt.UTC().Format("2006-01-02 15:04:05")

	_, err := s.db.ExecContext(ctx, `
		INSERT INTO tokens (id, user_id, token, expires_at)
		VALUES (?, ?, ?, ?)
	`, token.ID, token.UserID, token.Token, expiresAtStr)

	return err
}

func (s *SQLiteStore) GetToken(ctx context.Context, tokenStr string) (*Token, error) {
	row := s.db.QueryRowContext(ctx, `
		SELECT id, user_id, token, expires_at
		FROM tokens WHERE token = ? AND expires_at > datetime('now')
	`, tokenStr)

	var t Token
	err := row.Scan(&t.ID, &t.UserID, &t.Token, &t.ExpiresAt)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, err
	}

	return &t, nil
}

func (s *SQLiteStore) DeleteExpiredTokens(ctx context.Context) error {
	_, err := s.db.ExecContext(ctx, `DELETE FROM tokens WHERE expires_at < datetime('now')`)
	return err
}

// Bounties

func (s *SQLiteStore) CreateBounty(ctx context.Context, bounty *model.Bounty) error {
	if bounty.RewardTotal < 0 {
		return fmt.Errorf("reward total: %w", ErrInvalid)
	}
	for _, t := range bounty.RewardTiers {
		if t.Amount < 0 {
			return fmt.Errorf("tier %d amount: %w", t.Position, ErrInvalid)
		}
	}
	if bounty.ID == "" {
		bounty.ID = uuid.New().String()
	}
	if bounty.CreatedAt.IsZero() {
		bounty.CreatedAt = time.Now().UTC()
	}
	if bounty.RewardToken == "" {
		bounty.RewardToken = "USDC"
	}

	tiers, err := encodeTiers(bounty.RewardTiers)
	if err != nil {
		return err
	}

	_, err = s.db.ExecContext(ctx, `
		INSERT INTO bounties (id, title, description, sponsor_user_id, reward_total, reward_token, is_tiered_reward, reward_tiers, created_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)
	`, bounty.ID, bounty.Title, nullString(bounty.Description), bounty.SponsorUserID,
		bounty.RewardTotal, bounty.RewardToken, boolToInt(bounty.TieredReward), tiers, bounty.CreatedAt)

	return err
}

const bountyColumns = `
	b.id, b.title, b.description, b.sponsor_user_id, b.reward_total, b.reward_token,
	b.is_tiered_reward, b.reward_tiers, b.created_at,
	(SELECT COUNT(*) FROM bounty_comments c WHERE c.bounty_id = b.id)`

func (s *SQLiteStore) GetBounty(ctx context.Context, id string) (*model.Bounty, error) {
	row := s.db.QueryRowContext(ctx, `SELECT `+bountyColumns+` FROM bounties b WHERE b.id = ?`, id)

	bounty, err := scanBounty(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrNotFound
	}
	return bounty, err
}

func (s *SQLiteStore) ListBounties(ctx context.Context, limit int) ([]*model.Bounty, error) {
	if limit <= 0 || limit > MaxBountyListLimit {
		limit = DefaultBountyListLimit
	}

	rows, err := s.db.QueryContext(ctx, `
		SELECT `+bountyColumns+`
		FROM bounties b
		ORDER BY b.created_at DESC
		LIMIT ?
	`, limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var bounties []*model.Bounty
	for rows.Next() {
		bounty, err := scanBounty(rows)
		if err != nil {
			return nil, err
		}
		bounties = append(bounties, bounty)
	}

	return bounties, rows.Err()
}

// UpdateBountyReward saves the reward configuration. Only the sponsor may
// change it. Tier sums are not checked against the total.
func (s *SQLiteStore) UpdateBountyReward(ctx context.Context, id, sponsorID string, reward RewardUpdate) (*model.Bounty, error) {
	if reward.Total < 0 {
		return nil, fmt.Errorf("reward total: %w", ErrInvalid)
	}
	for _, t := range reward.Tiers {
		if t.Amount < 0 {
			return nil, fmt.Errorf("tier %d amount: %w", t.Position, ErrInvalid)
		}
	}

	var owner string
	err := s.db.QueryRowContext(ctx, `SELECT sponsor_user_id FROM bounties WHERE id = ?`, id).Scan(&owner)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, err
	}
	if owner != sponsorID {
		return nil, ErrForbidden
	}

	tiers, err := encodeTiers(reward.Tiers)
	if err != nil {
		return nil, err
	}
	token := reward.Token
	if token == "" {
		token = "USDC"
	}

	_, err = s.db.ExecContext(ctx, `
		UPDATE bounties SET reward_total = ?, reward_token = ?, is_tiered_reward = ?, reward_tiers = ?
		WHERE id = ?
	`, reward.Total, token, boolToInt(reward.Tiered), tiers, id)
	if err != nil {
		return nil, err
	}

	return s.GetBounty(ctx, id)
}

// Helpers

type scanner interface {
	Scan(dest ...any) error
}

func nullString(s string) sql.NullString {
	if s == "" {
		return sql.NullString{}
	}
	return sql.NullString{String: s, Valid: true}
}

func boolToInt(b bool) int {
	if b {
		return 1
	}
	return 0
}

func placeholders(n int) string {
	return strings.TrimSuffix(strings.Repeat("?,", n), ",")
}

func encodeTiers(tiers []model.RewardTier) (sql.NullString, error) {
	if len(tiers) == 0 {
		return sql.NullString{}, nil
	}
	data, err := json.Marshal(tiers)
	if err != nil {
		return sql.NullString{}, fmt.Errorf("encode reward tiers: %w", err)
	}
	return sql.NullString{String: string(data), Valid: true}, nil
}

func scanBounty(row scanner) (*model.Bounty, error) {
	var b model.Bounty
	var description, tiers sql.NullString
	var tiered int

	err := row.Scan(&b.ID, &b.Title, &description, &b.SponsorUserID, &b.RewardTotal, &b.RewardToken,
		&tiered, &tiers, &b.CreatedAt, &b.CommentCount)
	if err != nil {
		return nil, err
	}

	b.Description = description.String
	b.TieredReward = tiered == 1
	if tiers.Valid && tiers.String != "" {
		if err := json.Unmarshal([]byte(tiers.String), &b.RewardTiers); err != nil {
			return nil, fmt.Errorf("decode reward tiers of %s: %w", b.ID, err)
		}
	}

	return &b, nil
}

// Ensure SQLiteStore implements Store
var (
	_ Store          = (*SQLiteStore)(nil)
	_ comments.Store = (*SQLiteStore)(nil)
	_ notify.Store   = (*SQLiteStore)(nil)
)
