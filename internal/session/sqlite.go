package session

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	_ "github.com/mattn/go-sqlite3"
)

// SQLiteStore persists session records in a local SQLite database, surviving
// process restarts. Claims are stored JSON-encoded. With a cipher configured,
// token columns hold AES-GCM ciphertext.
type SQLiteStore struct {
	db       *sql.DB
	lifetime time.Duration
	cipher   *TokenCipher
	now      func() time.Time
}

// NewSQLiteStore opens (or creates) the database at path and runs the schema
// migration. A nil cipher stores tokens in the clear.
func NewSQLiteStore(path string, lifetime time.Duration, cipher *TokenCipher) (*SQLiteStore, error) {
	db, err := sql.Open("sqlite3", path)
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}
	if err := db.Ping(); err != nil {
		return nil, fmt.Errorf("failed to connect to database: %w", err)
	}

	s := &SQLiteStore{db: db, lifetime: lifetime, cipher: cipher, now: time.Now}
	if err := s.migrate(context.Background()); err != nil {
		return nil, fmt.Errorf("failed to run migrations: %w", err)
	}
	return s, nil
}

func (s *SQLiteStore) migrate(ctx context.Context) error {
	_, err := s.db.ExecContext(ctx, `
		CREATE TABLE IF NOT EXISTS sessions (
			session_id       TEXT PRIMARY KEY,
			user_claims      TEXT NOT NULL,
			access_token     TEXT NOT NULL,
			refresh_token    TEXT,
			expires_at       INTEGER NOT NULL,
			authenticated_at INTEGER NOT NULL,
			updated_at       INTEGER NOT NULL
		)`)
	return err
}

// Put stores or replaces the record for a session.
func (s *SQLiteStore) Put(ctx context.Context, sessionID string, rec *Record) error {
	if sessionID == "" {
		return fmt.Errorf("session ID cannot be empty")
	}
	if rec == nil {
		return fmt.Errorf("record cannot be nil")
	}

	claims, err := json.Marshal(rec.User)
	if err != nil {
		return fmt.Errorf("failed to marshal claims: %w", err)
	}

	accessToken, refreshToken := rec.AccessToken, rec.RefreshToken
	if s.cipher != nil {
		if accessToken, err = s.cipher.Encrypt(accessToken); err != nil {
			return fmt.Errorf("failed to encrypt access token: %w", err)
		}
		if refreshToken, err = s.cipher.Encrypt(refreshToken); err != nil {
			return fmt.Errorf("failed to encrypt refresh token: %w", err)
		}
	}

	_, err = s.db.ExecContext(ctx, `
		INSERT INTO sessions (session_id, user_claims, access_token, refresh_token, expires_at, authenticated_at, updated_at)
		VALUES (?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT(session_id) DO UPDATE SET
			user_claims = excluded.user_claims,
			access_token = excluded.access_token,
			refresh_token = excluded.refresh_token,
			expires_at = excluded.expires_at,
			authenticated_at = excluded.authenticated_at,
			updated_at = excluded.updated_at`,
		sessionID, string(claims), accessToken, refreshToken,
		rec.ExpiresAt.Unix(), rec.AuthenticatedAt.Unix(), s.now().Unix())
	if err != nil {
		return fmt.Errorf("failed to store session: %w", err)
	}
	return nil
}

// Get retrieves the record for a session.
func (s *SQLiteStore) Get(ctx context.Context, sessionID string) (*Record, error) {
	var (
		claimsJSON      string
		accessToken     string
		refreshToken    sql.NullString
		expiresAt       int64
		authenticatedAt int64
		updatedAt       int64
	)

	err := s.db.QueryRowContext(ctx, `
		SELECT user_claims, access_token, refresh_token, expires_at, authenticated_at, updated_at
		FROM sessions WHERE session_id = ?`, sessionID).
		Scan(&claimsJSON, &accessToken, &refreshToken, &expiresAt, &authenticatedAt, &updatedAt)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("failed to read session: %w", err)
	}

	if s.now().Sub(time.Unix(updatedAt, 0)) > s.lifetime {
		_ = s.Delete(ctx, sessionID)
		return nil, ErrNotFound
	}

	rec := &Record{
		AccessToken:     accessToken,
		RefreshToken:    refreshToken.String,
		ExpiresAt:       time.Unix(expiresAt, 0),
		AuthenticatedAt: time.Unix(authenticatedAt, 0),
	}
	if s.cipher != nil {
		if rec.AccessToken, err = s.cipher.Decrypt(rec.AccessToken); err != nil {
			return nil, fmt.Errorf("failed to decrypt access token: %w", err)
		}
		if rec.RefreshToken, err = s.cipher.Decrypt(rec.RefreshToken); err != nil {
			return nil, fmt.Errorf("failed to decrypt refresh token: %w", err)
		}
	}
	if err := json.Unmarshal([]byte(claimsJSON), &rec.User); err != nil {
		return nil, fmt.Errorf("failed to unmarshal claims: %w", err)
	}
	return rec, nil
}

// DeleteExpired removes sessions whose last write is past the lifetime.
// The Cleaner calls this periodically; Get also drops stale rows lazily.
func (s *SQLiteStore) DeleteExpired(ctx context.Context) (int64, error) {
	cutoff := s.now().Add(-s.lifetime).Unix()
	res, err := s.db.ExecContext(ctx, `DELETE FROM sessions WHERE updated_at < ?`, cutoff)
	if err != nil {
		return 0, fmt.Errorf("failed to delete expired sessions: %w", err)
	}
	return res.RowsAffected()
}

// Delete removes a session.
func (s *SQLiteStore) Delete(ctx context.Context, sessionID string) error {
	_, err := s.db.ExecContext(ctx, `DELETE FROM sessions WHERE session_id = ?`, sessionID)
	if err != nil {
		return fmt.Errorf("failed to delete session: %w", err)
	}
	return nil
}

// Close closes the underlying database.
func (s *SQLiteStore) Close() error {
	return s.db.Close()
}
