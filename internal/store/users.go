package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"log/slog"
	"time"

	_ "github.com/mattn/go-sqlite3"

	"securechat/internal/chat"
)

var (
	// ErrUserNotFound reports a lookup for an unknown id or username.
	ErrUserNotFound = errors.New("user not found")

	// ErrUsernameTaken rejects registration with an existing username.
	ErrUsernameTaken = errors.New("username already exists")
)

// Users is a SQLite-backed account directory. It implements
// chat.UserDirectory for the realtime core and carries the credential
// columns the HTTP auth surface needs.
type Users struct {
	db  *sql.DB
	log *slog.Logger
}

// OpenSQLite opens (and initializes) the user database at path. Use
// ":memory:" for tests.
func OpenSQLite(path string) (*sql.DB, error) {
	db, err := sql.Open("sqlite3", path+"?_foreign_keys=1&_journal_mode=WAL")
	if err != nil {
		return nil, fmt.Errorf("open sqlite at %q: %w", path, err)
	}

	// Each pool connection to :memory: would get its own database, so
	// pin the pool to a single connection there.
	if path == ":memory:" {
		db.SetMaxOpenConns(1)
	}

	if err := initSchema(db); err != nil {
		db.Close()
		return nil, err
	}
	return db, nil
}

func initSchema(db *sql.DB) error {
	queries := []string{
		`CREATE TABLE IF NOT EXISTS users (
			id INTEGER PRIMARY KEY AUTOINCREMENT,
			username TEXT UNIQUE NOT NULL,
			password_hash TEXT NOT NULL,
			last_login TEXT
		)`,
		`CREATE INDEX IF NOT EXISTS idx_users_username ON users(username)`,
	}

	for _, query := range queries {
		if _, err := db.Exec(query); err != nil {
			return fmt.Errorf("init schema: %w", err)
		}
	}
	return nil
}

// NewUsers wraps an open SQLite handle.
func NewUsers(db *sql.DB, log *slog.Logger) *Users {
	return &Users{db: db, log: log}
}

// Create inserts a new account with an already-hashed password.
func (u *Users) Create(ctx context.Context, username, passwordHash string) (chat.User, error) {
	var exists int
	err := u.db.QueryRowContext(ctx,
		`SELECT COUNT(*) FROM users WHERE username = ?`, username).Scan(&exists)
	if err != nil {
		return chat.User{}, fmt.Errorf("check username: %w", err)
	}
	if exists > 0 {
		return chat.User{}, ErrUsernameTaken
	}

	res, err := u.db.ExecContext(ctx,
		`INSERT INTO users (username, password_hash) VALUES (?, ?)`, username, passwordHash)
	if err != nil {
		return chat.User{}, fmt.Errorf("insert user: %w", err)
	}

	id, err := res.LastInsertId()
	if err != nil {
		return chat.User{}, fmt.Errorf("read user id: %w", err)
	}
	return chat.User{ID: id, Username: username}, nil
}

// GetByUsername returns the account and its password hash for credential
// verification.
func (u *Users) GetByUsername(ctx context.Context, username string) (chat.User, string, error) {
	var user chat.User
	var hash string
	err := u.db.QueryRowContext(ctx,
		`SELECT id, username, password_hash FROM users WHERE username = ?`, username).
		Scan(&user.ID, &user.Username, &hash)
	if errors.Is(err, sql.ErrNoRows) {
		return chat.User{}, "", ErrUserNotFound
	}
	if err != nil {
		return chat.User{}, "", fmt.Errorf("query user by username: %w", err)
	}
	return user, hash, nil
}

// GetUser implements chat.UserDirectory.
func (u *Users) GetUser(ctx context.Context, id int64) (chat.User, error) {
	var user chat.User
	err := u.db.QueryRowContext(ctx,
		`SELECT id, username FROM users WHERE id = ?`, id).
		Scan(&user.ID, &user.Username)
	if errors.Is(err, sql.ErrNoRows) {
		return chat.User{}, ErrUserNotFound
	}
	if err != nil {
		return chat.User{}, fmt.Errorf("query user by id: %w", err)
	}
	return user, nil
}

// ListUsers implements chat.UserDirectory, ordered by username.
func (u *Users) ListUsers(ctx context.Context) ([]chat.User, error) {
	rows, err := u.db.QueryContext(ctx,
		`SELECT id, username FROM users ORDER BY username`)
	if err != nil {
		return nil, fmt.Errorf("list users: %w", err)
	}
	defer rows.Close()

	var users []chat.User
	for rows.Next() {
		var user chat.User
		if err := rows.Scan(&user.ID, &user.Username); err != nil {
			return nil, fmt.Errorf("scan user: %w", err)
		}
		users = append(users, user)
	}
	return users, rows.Err()
}

// UpdateLastLogin stamps a successful login.
func (u *Users) UpdateLastLogin(ctx context.Context, id int64, at time.Time) error {
	_, err := u.db.ExecContext(ctx,
		`UPDATE users SET last_login = ? WHERE id = ?`, at.UTC().Format(time.RFC3339), id)
	if err != nil {
		return fmt.Errorf("update last_login: %w", err)
	}
	return nil
}
