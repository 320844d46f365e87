package store

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"time"

	"github.com/ashureev/reborn/internal/domain"
	"github.com/ashureev/reborn/internal/shared"
	"github.com/ashureev/reborn/internal/store/migrations"
	"github.com/google/uuid"
	_ "modernc.org/sqlite"
)

// SQLiteStore implements Repository using SQLite.
type SQLiteStore struct {
	db    *sql.DB
	retry shared.RetryPolicy
}

// NewSQLite creates a new SQLite-backed repository and applies migrations.
func NewSQLite(dbPath string) (*SQLiteStore, error) {
	db, err := OpenSQLite(dbPath)
	if err != nil {
		return nil, err
	}

	if err := migrations.Run(context.Background(), db); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("initialize schema: %w", err)
	}

	return &SQLiteStore{db: db, retry: shared.DefaultRetryPolicy}, nil
}

// OpenSQLite opens the database file without touching the schema.
func OpenSQLite(dbPath string) (*sql.DB, error) {
	if dir := filepath.Dir(dbPath); dir != "" && dir != "." {
		if err := os.MkdirAll(dir, 0755); err != nil {
			return nil, fmt.Errorf("create database directory: %w", err)
		}
	}

	dsn := dbPath + "?_pragma=busy_timeout(5000)&_pragma=journal_mode(WAL)&_pragma=synchronous(NORMAL)&_pragma=foreign_keys(1)"
	db, err := sql.Open("sqlite", dsn)
	if err != nil {
		return nil, fmt.Errorf("open database: %w", err)
	}

	db.SetMaxOpenConns(25)
	db.SetMaxIdleConns(5)
	db.SetConnMaxLifetime(5 * time.Minute)

	if err := db.Ping(); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("ping database: %w", err)
	}
	return db, nil
}

// Ping verifies database connectivity.
func (s *SQLiteStore) Ping(ctx context.Context) error {
	return s.db.PingContext(ctx)
}

// Close closes the database connection.
func (s *SQLiteStore) Close() error {
	if err := s.db.Close(); err != nil {
		return fmt.Errorf("close database: %w", err)
	}
	return nil
}

func (s *SQLiteStore) inTx(ctx context.Context, op string, fn func(tx *sql.Tx) error) error {
	return shared.RetryOnConflict(ctx, s.retry, op, func() error {
		tx, err := s.db.BeginTx(ctx, nil)
		if err != nil {
			return fmt.Errorf("begin transaction: %w", err)
		}
		if err := fn(tx); err != nil {
			if rbErr := tx.Rollback(); rbErr != nil {
				slog.Warn("Rollback failed", "op", op, "error", rbErr)
			}
			return err
		}
		if err := tx.Commit(); err != nil {
			return fmt.Errorf("commit %s: %w", op, err)
		}
		return nil
	})
}

// GetUser retrieves a user by their user ID.
func (s *SQLiteStore) GetUser(ctx context.Context, userID string) (*domain.User, error) {
	query := `
		SELECT user_id, phone, is_active, created_at, updated_at
		FROM users WHERE user_id = ?`
	return scanUser(s.db.QueryRowContext(ctx, query, userID))
}

type rowScanner interface {
	Scan(dest ...any) error
}

func scanUser(row rowScanner) (*domain.User, error) {
	var user domain.User
	var createdAt, updatedAt int64
	err := row.Scan(&user.UserID, &user.Phone, &user.IsActive, &createdAt, &updatedAt)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("scan user row: %w", err)
	}
	user.CreatedAt = time.Unix(createdAt, 0)
	user.UpdatedAt = time.Unix(updatedAt, 0)
	return &user, nil
}

// GetOrCreateUserByPhone returns the user for phone, creating the user and an
// empty profile in one transaction on first sight.
func (s *SQLiteStore) GetOrCreateUserByPhone(ctx context.Context, phone string) (*domain.User, bool, error) {
	var user *domain.User
	var created bool

	err := s.inTx(ctx, "get or create user", func(tx *sql.Tx) error {
		existing, err := scanUser(tx.QueryRowContext(ctx, `
			SELECT user_id, phone, is_active, created_at, updated_at
			FROM users WHERE phone = ?`, phone))
		if err != nil {
			return err
		}
		if existing != nil {
			user, created = existing, false
			return nil
		}

		now := time.Now()
		user = &domain.User{
			UserID:    uuid.NewString(),
			Phone:     phone,
			IsActive:  true,
			CreatedAt: now,
			UpdatedAt: now,
		}
		if _, err := tx.ExecContext(ctx, `
			INSERT INTO users (user_id, phone, is_active, created_at, updated_at)
			VALUES (?, ?, 1, ?, ?)`,
			user.UserID, user.Phone, now.Unix(), now.Unix(),
		); err != nil {
			return fmt.Errorf("insert user: %w", err)
		}
		if _, err := tx.ExecContext(ctx, `
			INSERT INTO profiles (user_id, current_stage, created_at, updated_at)
			VALUES (?, ?, ?, ?)`,
			user.UserID, string(domain.StageNewUser), now.Unix(), now.Unix(),
		); err != nil {
			return fmt.Errorf("insert profile: %w", err)
		}
		created = true
		return nil
	})
	if err != nil {
		return nil, false, err
	}
	return user, created, nil
}

const profileColumns = `user_id, anti_vision, vision, identity_statement,
		       current_stage, key_insights_json, created_at, updated_at`

func scanProfile(row rowScanner) (*domain.Profile, error) {
	var p domain.Profile
	var stage, insightsJSON string
	var createdAt, updatedAt int64

	err := row.Scan(
		&p.UserID, &p.AntiVision, &p.Vision, &p.IdentityStatement,
		&stage, &insightsJSON, &createdAt, &updatedAt,
	)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("scan profile row: %w", err)
	}

	p.CurrentStage = domain.Stage(stage)
	if err := json.Unmarshal([]byte(insightsJSON), &p.KeyInsights); err != nil {
		slog.Warn("Discarding malformed key insights", "user_id", p.UserID, "error", err)
		p.KeyInsights = nil
	}
	if p.KeyInsights == nil {
		p.KeyInsights = []string{}
	}
	p.CreatedAt = time.Unix(createdAt, 0)
	p.UpdatedAt = time.Unix(updatedAt, 0)
	return &p, nil
}

// GetProfile retrieves the profile for a user.
func (s *SQLiteStore) GetProfile(ctx context.Context, userID string) (*domain.Profile, error) {
	return scanProfile(s.db.QueryRowContext(ctx,
		`SELECT `+profileColumns+` FROM profiles WHERE user_id = ?`, userID))
}

func upsertProfile(ctx context.Context, tx *sql.Tx, p *domain.Profile) error {
	insights, err := json.Marshal(p.KeyInsights)
	if err != nil {
		return fmt.Errorf("encode key insights: %w", err)
	}

	_, err = tx.ExecContext(ctx, `
		INSERT INTO profiles (
			user_id, anti_vision, vision, identity_statement,
			current_stage, key_insights_json, created_at, updated_at
		) VALUES (?, ?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT(user_id) DO UPDATE SET
			anti_vision = excluded.anti_vision,
			vision = excluded.vision,
			identity_statement = excluded.identity_statement,
			current_stage = excluded.current_stage,
			key_insights_json = excluded.key_insights_json,
			updated_at = excluded.updated_at`,
		p.UserID, p.AntiVision, p.Vision, p.IdentityStatement,
		string(p.CurrentStage), string(insights),
		p.CreatedAt.Unix(), p.UpdatedAt.Unix(),
	)
	if err != nil {
		return fmt.Errorf("upsert profile: %w", err)
	}
	return nil
}

// modifyProfile loads the profile (or an empty one), lets fn mutate it and
// writes it back within one transaction. The stage is always recomputed.
func (s *SQLiteStore) modifyProfile(ctx context.Context, op, userID string, fn func(p *domain.Profile)) (*domain.Profile, error) {
	var out *domain.Profile
	err := s.inTx(ctx, op, func(tx *sql.Tx) error {
		p, err := scanProfile(tx.QueryRowContext(ctx,
			`SELECT `+profileColumns+` FROM profiles WHERE user_id = ?`, userID))
		if err != nil {
			return err
		}
		now := time.Now()
		if p == nil {
			p = domain.EmptyProfile(userID)
			p.CreatedAt = now
		}

		fn(p)
		p.CurrentStage = domain.DeriveStage(p.Vision, p.AntiVision)
		p.UpdatedAt = now

		if err := upsertProfile(ctx, tx, p); err != nil {
			return err
		}
		out = p
		return nil
	})
	if err != nil {
		return nil, err
	}
	return out, nil
}

// UpdateProfile applies a partial profile update.
func (s *SQLiteStore) UpdateProfile(ctx context.Context, userID string, update domain.ProfileUpdate) (*domain.Profile, error) {
	return s.modifyProfile(ctx, "update profile", userID, func(p *domain.Profile) {
		p.Apply(update)
	})
}

// SaveInsights replaces the profile's key insights.
func (s *SQLiteStore) SaveInsights(ctx context.Context, userID string, insights []string) error {
	_, err := s.modifyProfile(ctx, "save insights", userID, func(p *domain.Profile) {
		p.KeyInsights = domain.LastInsights(insights)
	})
	return err
}

// LatestConversation loads the most recent conversation or creates one.
func (s *SQLiteStore) LatestConversation(ctx context.Context, userID string) (*domain.Conversation, error) {
	conv := &domain.Conversation{UserID: userID}
	var createdAt, updatedAt int64

	err := s.db.QueryRowContext(ctx, `
		SELECT conversation_id, created_at, updated_at
		FROM conversations WHERE user_id = ?
		ORDER BY created_at DESC, rowid DESC LIMIT 1`, userID,
	).Scan(&conv.ID, &createdAt, &updatedAt)

	if errors.Is(err, sql.ErrNoRows) {
		now := time.Now()
		conv.ID = uuid.NewString()
		conv.CreatedAt = now
		conv.UpdatedAt = now
		err = shared.RetryOnConflict(ctx, s.retry, "create conversation", func() error {
			_, execErr := s.db.ExecContext(ctx, `
				INSERT INTO conversations (conversation_id, user_id, created_at, updated_at)
				VALUES (?, ?, ?, ?)`,
				conv.ID, userID, now.Unix(), now.Unix())
			return execErr
		})
		if err != nil {
			return nil, fmt.Errorf("create conversation: %w", err)
		}
		conv.Messages = []domain.Message{}
		return conv, nil
	}
	if err != nil {
		return nil, fmt.Errorf("query latest conversation: %w", err)
	}

	conv.CreatedAt = time.Unix(createdAt, 0)
	conv.UpdatedAt = time.Unix(updatedAt, 0)

	messages, err := s.loadMessages(ctx, conv.ID)
	if err != nil {
		return nil, err
	}
	conv.Messages = messages
	return conv, nil
}

func (s *SQLiteStore) loadMessages(ctx context.Context, conversationID string) ([]domain.Message, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT role, content FROM messages
		WHERE conversation_id = ? ORDER BY message_id ASC`, conversationID)
	if err != nil {
		return nil, fmt.Errorf("query messages: %w", err)
	}
	defer func() {
		if closeErr := rows.Close(); closeErr != nil {
			slog.Warn("failed to close message rows", "error", closeErr)
		}
	}()

	messages := []domain.Message{}
	for rows.Next() {
		var role, content string
		if err := rows.Scan(&role, &content); err != nil {
			return nil, fmt.Errorf("scan message row: %w", err)
		}
		r, err := domain.ParseRole(role)
		if err != nil {
			slog.Warn("Skipping message with unknown role", "conversation_id", conversationID, "role", role)
			continue
		}
		messages = append(messages, domain.Message{Role: r, Content: content})
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate messages: %w", err)
	}
	return messages, nil
}

// AppendMessage appends a message to the conversation.
func (s *SQLiteStore) AppendMessage(ctx context.Context, conv *domain.Conversation, role domain.Role, content string) error {
	if !role.Valid() {
		return fmt.Errorf("append message: unknown role %q", role)
	}

	now := time.Now()
	err := s.inTx(ctx, "append message", func(tx *sql.Tx) error {
		if _, err := tx.ExecContext(ctx, `
			INSERT INTO messages (conversation_id, role, content, created_at)
			VALUES (?, ?, ?, ?)`,
			conv.ID, string(role), content, now.Unix(),
		); err != nil {
			return fmt.Errorf("insert message: %w", err)
		}
		result, err := tx.ExecContext(ctx,
			`UPDATE conversations SET updated_at = ? WHERE conversation_id = ?`,
			now.Unix(), conv.ID)
		if err != nil {
			return fmt.Errorf("touch conversation: %w", err)
		}
		rows, err := result.RowsAffected()
		if err != nil {
			return fmt.Errorf("get rows affected: %w", err)
		}
		if rows == 0 {
			return fmt.Errorf("conversation %s not found", conv.ID)
		}
		return nil
	})
	if err != nil {
		return err
	}

	conv.Append(role, content)
	conv.UpdatedAt = now
	return nil
}

// ClearConversations deletes every conversation of the user.
func (s *SQLiteStore) ClearConversations(ctx context.Context, userID string) (int64, error) {
	var deleted int64
	err := s.inTx(ctx, "clear conversations", func(tx *sql.Tx) error {
		if _, err := tx.ExecContext(ctx, `
			DELETE FROM messages WHERE conversation_id IN (
				SELECT conversation_id FROM conversations WHERE user_id = ?)`, userID); err != nil {
			return fmt.Errorf("delete messages: %w", err)
		}
		result, err := tx.ExecContext(ctx, `DELETE FROM conversations WHERE user_id = ?`, userID)
		if err != nil {
			return fmt.Errorf("delete conversations: %w", err)
		}
		deleted, err = result.RowsAffected()
		return err
	})
	return deleted, err
}

// DeleteStaleConversations removes conversations not updated within ttl.
func (s *SQLiteStore) DeleteStaleConversations(ctx context.Context, ttl time.Duration) (int64, error) {
	threshold := time.Now().Add(-ttl).Unix()
	var deleted int64
	err := s.inTx(ctx, "delete stale conversations", func(tx *sql.Tx) error {
		if _, err := tx.ExecContext(ctx, `
			DELETE FROM messages WHERE conversation_id IN (
				SELECT conversation_id FROM conversations WHERE updated_at < ?)`, threshold); err != nil {
			return fmt.Errorf("delete stale messages: %w", err)
		}
		result, err := tx.ExecContext(ctx, `DELETE FROM conversations WHERE updated_at < ?`, threshold)
		if err != nil {
			return fmt.Errorf("delete stale conversations: %w", err)
		}
		deleted, err = result.RowsAffected()
		return err
	})
	return deleted, err
}

var _ Repository = (*SQLiteStore)(nil)
