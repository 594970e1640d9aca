package reputation

import (
	"database/sql"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"sync"

	_ "github.com/lib/pq"
)

// Store persists the rating table. Two implementations satisfy it: the
// default atomic-JSON-file store and an optional Postgres-backed one for
// operators who already run Postgres for other services.
type Store interface {
	LoadAll() (map[string]*Record, error)
	Save(agentID string, rec Record) error
}

// FileStore serialises the whole ratings table as a single JSON object,
// written atomically (write-temp, rename).
type FileStore struct {
	mu   sync.Mutex
	path string
}

func NewFileStore(path string) *FileStore {
	return &FileStore{path: path}
}

func (f *FileStore) LoadAll() (map[string]*Record, error) {
	f.mu.Lock()
	defer f.mu.Unlock()

	data, err := os.ReadFile(f.path)
	if os.IsNotExist(err) {
		return make(map[string]*Record), nil
	}
	if err != nil {
		return nil, err
	}

	var raw map[string]*Record
	if err := json.Unmarshal(data, &raw); err != nil {
		return nil, fmt.Errorf("parse ratings file: %w", err)
	}
	for id, rec := range raw {
		rec.AgentID = id
	}
	return raw, nil
}

// Save rewrites the entire table atomically: simple whole-file persistence
// over incremental appends, since the ratings table is small and bounded by
// live-agent count.
func (f *FileStore) Save(agentID string, rec Record) error {
	f.mu.Lock()
	defer f.mu.Unlock()

	all, err := f.loadAllLocked()
	if err != nil {
		return err
	}
	all[agentID] = &rec

	data, err := json.MarshalIndent(all, "", "  ")
	if err != nil {
		return err
	}

	dir := filepath.Dir(f.path)
	tmp, err := os.CreateTemp(dir, ".ratings-*.tmp")
	if err != nil {
		return err
	}
	tmpPath := tmp.Name()
	if _, err := tmp.Write(data); err != nil {
		tmp.Close()
		os.Remove(tmpPath)
		return err
	}
	if err := tmp.Close(); err != nil {
		os.Remove(tmpPath)
		return err
	}
	return os.Rename(tmpPath, f.path)
}

func (f *FileStore) loadAllLocked() (map[string]*Record, error) {
	data, err := os.ReadFile(f.path)
	if os.IsNotExist(err) {
		return make(map[string]*Record), nil
	}
	if err != nil {
		return nil, err
	}
	var raw map[string]*Record
	if err := json.Unmarshal(data, &raw); err != nil {
		return nil, err
	}
	if raw == nil {
		raw = make(map[string]*Record)
	}
	return raw, nil
}

// PostgresStore persists ratings in a Postgres table for operators who
// already run Postgres for the rest of the OCX-family stack.
type PostgresStore struct {
	db *sql.DB
}

// NewPostgresStore opens dsn and ensures the ratings table exists.
func NewPostgresStore(dsn string) (*PostgresStore, error) {
	db, err := sql.Open("postgres", dsn)
	if err != nil {
		return nil, err
	}
	if _, err := db.Exec(`
		CREATE TABLE IF NOT EXISTS agent_ratings (
			agent_id TEXT PRIMARY KEY,
			rating INTEGER NOT NULL,
			transactions INTEGER NOT NULL,
			updated_ms BIGINT NOT NULL
		)
	`); err != nil {
		db.Close()
		return nil, fmt.Errorf("create ratings table: %w", err)
	}
	return &PostgresStore{db: db}, nil
}

func (p *PostgresStore) LoadAll() (map[string]*Record, error) {
	rows, err := p.db.Query(`SELECT agent_id, rating, transactions, updated_ms FROM agent_ratings`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	out := make(map[string]*Record)
	for rows.Next() {
		var rec Record
		if err := rows.Scan(&rec.AgentID, &rec.Rating, &rec.Transactions, &rec.UpdatedMs); err != nil {
			return nil, err
		}
		out[rec.AgentID] = &rec
	}
	return out, rows.Err()
}

func (p *PostgresStore) Save(agentID string, rec Record) error {
	_, err := p.db.Exec(`
		INSERT INTO agent_ratings (agent_id, rating, transactions, updated_ms)
		VALUES ($1, $2, $3, $4)
		ON CONFLICT (agent_id) DO UPDATE SET
			rating = EXCLUDED.rating,
			transactions = EXCLUDED.transactions,
			updated_ms = EXCLUDED.updated_ms
	`, agentID, rec.Rating, rec.Transactions, rec.UpdatedMs)
	return err
}

func (p *PostgresStore) Close() error {
	return p.db.Close()
}

// NewStore builds the configured backend ("file" default, or "postgres").
func NewStore(backend, filePath, postgresDSN string) (Store, error) {
	switch backend {
	case "postgres":
		return NewPostgresStore(postgresDSN)
	default:
		return NewFileStore(filePath), nil
	}
}
