// Package store persists user records in SQLite. It is its own
// serialization domain: callers must not hold registry locks across calls.
package store

import (
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"sync"

	"github.com/rs/zerolog/log"
	_ "modernc.org/sqlite"

	"github.com/dkeye/Pair/internal/domain"
)

var (
	ErrNotFound = errors.New("user not found")
	ErrExists   = errors.New("user already exists")
)

type Store struct {
	db *sql.DB
	mu sync.Mutex
}

// Open opens (or creates) the user database. An empty path opens a private
// in-memory database, handy for tests.
func Open(path string) (*Store, error) {
	if path == "" {
		path = ":memory:"
	}
	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, fmt.Errorf("open database: %w", err)
	}
	// All access is serialized by s.mu anyway; one pooled connection also
	// keeps an in-memory database from splitting per connection.
	db.SetMaxOpenConns(1)

	// WAL mode for concurrent access; harmless no-op for in-memory databases.
	for _, pragma := range []string{
		"PRAGMA journal_mode = WAL",
		"PRAGMA busy_timeout = 5000",
	} {
		if _, err := db.Exec(pragma); err != nil {
			db.Close()
			return nil, fmt.Errorf("configure database: %w", err)
		}
	}

	if _, err := db.Exec(`CREATE TABLE IF NOT EXISTS users (
		name     TEXT PRIMARY KEY,
		password TEXT NOT NULL,
		peers    TEXT NOT NULL DEFAULT '[]',
		status   TEXT NOT NULL DEFAULT ''
	)`); err != nil {
		db.Close()
		return nil, fmt.Errorf("create users table: %w", err)
	}

	return &Store{db: db}, nil
}

func (s *Store) Close() error {
	return s.db.Close()
}

// CreateUser inserts a fresh record. Fails with ErrExists on a duplicate name.
func (s *Store) CreateUser(u *domain.User) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	peers, err := json.Marshal(u.Peers)
	if err != nil {
		return err
	}
	res, err := s.db.Exec(
		`INSERT INTO users (name, password, peers, status) VALUES (?, ?, ?, ?)
		 ON CONFLICT(name) DO NOTHING`,
		u.Name, u.Password, string(peers), u.Status,
	)
	if err != nil {
		return fmt.Errorf("insert user: %w", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return err
	}
	if n == 0 {
		return fmt.Errorf("%w: %s", ErrExists, u.Name)
	}
	log.Debug().Str("module", "store").Str("user", u.Name).Msg("created user")
	return nil
}

// GetUser loads one record. Fails with ErrNotFound for unknown names.
func (s *Store) GetUser(name string) (*domain.User, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.getUser(name)
}

func (s *Store) getUser(name string) (*domain.User, error) {
	u := &domain.User{Name: name}
	var peers string
	err := s.db.QueryRow(
		`SELECT password, peers, status FROM users WHERE name = ?`, name,
	).Scan(&u.Password, &peers, &u.Status)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, fmt.Errorf("%w: %s", ErrNotFound, name)
	}
	if err != nil {
		return nil, fmt.Errorf("select user: %w", err)
	}
	if err := json.Unmarshal([]byte(peers), &u.Peers); err != nil {
		return nil, fmt.Errorf("decode peers of %s: %w", name, err)
	}
	return u, nil
}

// AddPeers appends the given names to the user's peer list, preserving
// insertion order and skipping duplicates.
func (s *Store) AddPeers(name string, peers []string) error {
	return s.updatePeers(name, func(u *domain.User) { u.AddPeers(peers) })
}

// DeletePeers removes the given names from the user's peer list.
func (s *Store) DeletePeers(name string, peers []string) error {
	return s.updatePeers(name, func(u *domain.User) { u.DeletePeers(peers) })
}

func (s *Store) updatePeers(name string, mutate func(*domain.User)) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	u, err := s.getUser(name)
	if err != nil {
		return err
	}
	mutate(u)
	encoded, err := json.Marshal(u.Peers)
	if err != nil {
		return err
	}
	if _, err := s.db.Exec(
		`UPDATE users SET peers = ? WHERE name = ?`, string(encoded), name,
	); err != nil {
		return fmt.Errorf("update peers: %w", err)
	}
	return nil
}

// SetStatus persists the user's status string.
func (s *Store) SetStatus(name, status string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	res, err := s.db.Exec(`UPDATE users SET status = ? WHERE name = ?`, status, name)
	if err != nil {
		return fmt.Errorf("update status: %w", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return err
	}
	if n == 0 {
		return fmt.Errorf("%w: %s", ErrNotFound, name)
	}
	return nil
}
