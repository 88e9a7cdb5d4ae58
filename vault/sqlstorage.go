package vault

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
)

// SQLStorage is a Postgres-backed KeyValueStorage for persistent Vault
// secrets (and, reused as-is, the Identity repository). The exact schema
// is not part of the spec; this table is the minimal shape SQLStorage
// needs.
//
//	CREATE TABLE IF NOT EXISTS vault_secrets (
//	    key_id     TEXT PRIMARY KEY,
//	    attributes JSONB NOT NULL,
//	    secret     BYTEA NOT NULL
//	);
type SQLStorage struct {
	pool *pgxpool.Pool
}

// SQLConfig mirrors the connection shape used across this codebase's
// other Postgres-backed stores.
type SQLConfig struct {
	Host     string
	Port     int
	User     string
	Password string
	Database string
	SSLMode  string
}

func NewSQLStorage(ctx context.Context, cfg SQLConfig) (*SQLStorage, error) {
	connString := fmt.Sprintf(
		"host=%s port=%d user=%s password=%s dbname=%s sslmode=%s",
		cfg.Host, cfg.Port, cfg.User, cfg.Password, cfg.Database, cfg.SSLMode,
	)

	pool, err := pgxpool.New(ctx, connString)
	if err != nil {
		return nil, fmt.Errorf("vault: create connection pool: %w", err)
	}
	if err := pool.Ping(ctx); err != nil {
		pool.Close()
		return nil, fmt.Errorf("vault: ping database: %w", err)
	}
	return &SQLStorage{pool: pool}, nil
}

func (s *SQLStorage) Close() {
	s.pool.Close()
}

func (s *SQLStorage) Put(ctx context.Context, key KeyId, value StoredSecret) error {
	attrs, err := json.Marshal(value.Attributes)
	if err != nil {
		return fmt.Errorf("vault: marshal attributes: %w", err)
	}

	const query = `
		INSERT INTO vault_secrets (key_id, attributes, secret)
		VALUES ($1, $2, $3)
		ON CONFLICT (key_id) DO UPDATE SET attributes = $2, secret = $3
	`
	if _, err := s.pool.Exec(ctx, query, string(key), attrs, value.Bytes); err != nil {
		return fmt.Errorf("vault: store secret: %w", err)
	}
	return nil
}

func (s *SQLStorage) Get(ctx context.Context, key KeyId) (StoredSecret, error) {
	const query = `SELECT attributes, secret FROM vault_secrets WHERE key_id = $1`

	var attrsJSON []byte
	var secret []byte
	err := s.pool.QueryRow(ctx, query, string(key)).Scan(&attrsJSON, &secret)
	if err == pgx.ErrNoRows {
		return StoredSecret{}, fmt.Errorf("%w: %s", ErrKeyNotFound, key)
	}
	if err != nil {
		return StoredSecret{}, fmt.Errorf("vault: load secret: %w", err)
	}

	var attrs SecretAttributes
	if err := json.Unmarshal(attrsJSON, &attrs); err != nil {
		return StoredSecret{}, fmt.Errorf("vault: unmarshal attributes: %w", err)
	}
	return StoredSecret{Bytes: secret, Attributes: attrs}, nil
}

func (s *SQLStorage) Delete(ctx context.Context, key KeyId) error {
	const query = `DELETE FROM vault_secrets WHERE key_id = $1`
	if _, err := s.pool.Exec(ctx, query, string(key)); err != nil {
		return fmt.Errorf("vault: delete secret: %w", err)
	}
	return nil
}

func (s *SQLStorage) Keys(ctx context.Context) ([]KeyId, error) {
	const query = `SELECT key_id FROM vault_secrets`
	rows, err := s.pool.Query(ctx, query)
	if err != nil {
		return nil, fmt.Errorf("vault: list secrets: %w", err)
	}
	defer rows.Close()

	var keys []KeyId
	for rows.Next() {
		var id string
		if err := rows.Scan(&id); err != nil {
			return nil, fmt.Errorf("vault: scan key id: %w", err)
		}
		keys = append(keys, KeyId(id))
	}
	return keys, rows.Err()
}
