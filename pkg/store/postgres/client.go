// Package postgres provides the PostgreSQL implementation of the record store.
//
// Embeddings are stored as JSONB; timestamps are BIGINT milliseconds since
// epoch so expiry comparisons happen inside SQL. Suitable for server
// deployments where several engine instances share one backend.
package postgres

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"

	"github.com/lib/pq"

	"github.com/memvault/memvault-go/pkg/store"
)

// Client implements store.Store using PostgreSQL as the backend.
type Client struct {
	db        *sql.DB
	tableName string
}

// Config contains PostgreSQL configuration.
type Config struct {
	Host      string
	Port      int
	User      string
	Password  string
	DBName    string
	TableName string
	SSLMode   string

	// MaxOpenConns bounds the connection pool. Callers block (with the
	// driver's timeout) rather than fail when the pool is exhausted.
	MaxOpenConns int
}

// NewClient creates a new PostgreSQL store client and initializes the schema.
func NewClient(cfg *Config) (*Client, error) {
	sslMode := cfg.SSLMode
	if sslMode == "" {
		sslMode = "disable"
	}
	tableName := cfg.TableName
	if tableName == "" {
		tableName = "memories"
	}

	dsn := fmt.Sprintf("host=%s port=%d user=%s password=%s dbname=%s sslmode=%s",
		cfg.Host, cfg.Port, cfg.User, cfg.Password, cfg.DBName, sslMode)

	db, err := sql.Open("postgres", dsn)
	if err != nil {
		return nil, fmt.Errorf("NewPostgresClient: %w", err)
	}

	if cfg.MaxOpenConns > 0 {
		db.SetMaxOpenConns(cfg.MaxOpenConns)
	}

	if err := db.Ping(); err != nil {
		return nil, fmt.Errorf("NewPostgresClient: %w", err)
	}

	client := &Client{
		db:        db,
		tableName: tableName,
	}

	if err := client.initTables(context.Background()); err != nil {
		return nil, err
	}

	return client, nil
}

// initTables initializes the database table.
func (c *Client) initTables(ctx context.Context) error {
	query := fmt.Sprintf(`
		CREATE TABLE IF NOT EXISTS %s (
			id BIGINT PRIMARY KEY,
			namespace VARCHAR(255) NOT NULL,
			content TEXT NOT NULL,
			embedding JSONB,
			memory_type VARCHAR(32) NOT NULL,
			category VARCHAR(32) NOT NULL,
			importance_score FLOAT NOT NULL DEFAULT 0.5,
			metadata JSONB,
			created_at BIGINT NOT NULL,
			expire_at BIGINT,
			indexed BOOLEAN NOT NULL DEFAULT FALSE
		)
	`, c.tableName)

	if _, err := c.db.ExecContext(ctx, query); err != nil {
		return fmt.Errorf("initTables: create table: %w", err)
	}

	indexes := []string{
		fmt.Sprintf(`CREATE INDEX IF NOT EXISTS idx_%s_namespace ON %s(namespace, category, memory_type)`, c.tableName, c.tableName),
		fmt.Sprintf(`CREATE INDEX IF NOT EXISTS idx_%s_expire ON %s(expire_at)`, c.tableName, c.tableName),
	}
	for _, q := range indexes {
		if _, err := c.db.ExecContext(ctx, q); err != nil {
			return fmt.Errorf("initTables: create index: %w", err)
		}
	}

	return nil
}

// Insert stores a new record.
func (c *Client) Insert(ctx context.Context, rec *store.Record) error {
	query := fmt.Sprintf(`
		INSERT INTO %s
		(id, namespace, content, embedding, memory_type, category, importance_score, metadata, created_at, expire_at, indexed)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11)
	`, c.tableName)

	embeddingJSON, err := marshalEmbedding(rec.Embedding)
	if err != nil {
		return fmt.Errorf("Insert: %w", err)
	}

	metadataJSON, err := json.Marshal(rec.Metadata)
	if err != nil {
		return fmt.Errorf("Insert: %w", err)
	}

	_, err = c.db.ExecContext(ctx, query,
		rec.ID,
		rec.Namespace,
		rec.Content,
		embeddingJSON,
		string(rec.MemoryType),
		string(rec.Category),
		rec.ImportanceScore,
		string(metadataJSON),
		rec.CreatedAt,
		nullableInt64(rec.ExpireAt),
		rec.Indexed,
	)
	if err != nil {
		if pqErr, ok := err.(*pq.Error); ok && pqErr.Code == "23505" {
			return store.ErrDuplicateID
		}
		return fmt.Errorf("Insert: %w", err)
	}

	return nil
}

// Get retrieves a record by id.
func (c *Client) Get(ctx context.Context, id int64) (*store.Record, error) {
	query := fmt.Sprintf(`SELECT %s FROM %s WHERE id = $1`, recordColumns, c.tableName)

	row := c.db.QueryRowContext(ctx, query, id)
	rec, err := scanRecord(row)
	if err == sql.ErrNoRows {
		return nil, store.ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("Get: %w", err)
	}
	return rec, nil
}

// Delete removes a record by id.
func (c *Client) Delete(ctx context.Context, id int64) error {
	query := fmt.Sprintf("DELETE FROM %s WHERE id = $1", c.tableName)

	result, err := c.db.ExecContext(ctx, query, id)
	if err != nil {
		return fmt.Errorf("Delete: %w", err)
	}

	rowsAffected, err := result.RowsAffected()
	if err != nil {
		return fmt.Errorf("Delete: %w", err)
	}
	if rowsAffected == 0 {
		return store.ErrNotFound
	}

	return nil
}

// List returns records matching opts, newest first.
func (c *Client) List(ctx context.Context, opts *store.ListOptions) ([]*store.Record, error) {
	whereClause, args := buildWhereClause(&opts.Filter, opts.Now, opts.IncludeExpired, opts.EmbeddedOnly, 1)

	limit := opts.Limit
	if limit <= 0 {
		limit = 100
	}

	query := fmt.Sprintf(`
		SELECT %s FROM %s
		%s
		ORDER BY created_at DESC, id DESC
		LIMIT $%d OFFSET $%d
	`, recordColumns, c.tableName, whereClause, len(args)+1, len(args)+2)

	args = append(args, limit, opts.Offset)

	return c.queryRecords(ctx, "List", query, args)
}

// SearchText returns lexical candidates whose content matches at least one
// term, using case-insensitive ILIKE pre-filtering.
func (c *Client) SearchText(ctx context.Context, opts *store.TextSearchOptions) ([]*store.Record, error) {
	if len(opts.Terms) == 0 {
		return nil, nil
	}

	whereClause, args := buildWhereClause(&opts.Filter, opts.Now, false, false, 1)

	likeClause := ""
	for i, term := range opts.Terms {
		if i > 0 {
			likeClause += " OR "
		}
		likeClause += fmt.Sprintf("content ILIKE $%d", len(args)+1)
		args = append(args, "%"+term+"%")
	}

	if whereClause == "" {
		whereClause = "WHERE (" + likeClause + ")"
	} else {
		whereClause += " AND (" + likeClause + ")"
	}

	limit := opts.Limit
	if limit <= 0 {
		limit = 100
	}

	query := fmt.Sprintf(`
		SELECT %s FROM %s
		%s
		ORDER BY created_at DESC, id DESC
		LIMIT $%d
	`, recordColumns, c.tableName, whereClause, len(args)+1)

	args = append(args, limit)

	return c.queryRecords(ctx, "SearchText", query, args)
}

// ListExpired returns up to limit records with expire_at <= nowMS.
func (c *Client) ListExpired(ctx context.Context, nowMS int64, limit int) ([]*store.Record, error) {
	if limit <= 0 {
		limit = 1000
	}

	query := fmt.Sprintf(`
		SELECT %s FROM %s
		WHERE expire_at IS NOT NULL AND expire_at <= $1
		ORDER BY expire_at ASC
		LIMIT $2
	`, recordColumns, c.tableName)

	return c.queryRecords(ctx, "ListExpired", query, []interface{}{nowMS, limit})
}

// SetExpireAt replaces a record's expiration instant.
func (c *Client) SetExpireAt(ctx context.Context, id int64, expireAt *int64) error {
	query := fmt.Sprintf("UPDATE %s SET expire_at = $1 WHERE id = $2", c.tableName)

	result, err := c.db.ExecContext(ctx, query, nullableInt64(expireAt), id)
	if err != nil {
		return fmt.Errorf("SetExpireAt: %w", err)
	}

	rowsAffected, err := result.RowsAffected()
	if err != nil {
		return fmt.Errorf("SetExpireAt: %w", err)
	}
	if rowsAffected == 0 {
		return store.ErrNotFound
	}

	return nil
}

// MarkIndexed records whether the vector index holds this record.
func (c *Client) MarkIndexed(ctx context.Context, id int64, indexed bool) error {
	query := fmt.Sprintf("UPDATE %s SET indexed = $1 WHERE id = $2", c.tableName)

	result, err := c.db.ExecContext(ctx, query, indexed, id)
	if err != nil {
		return fmt.Errorf("MarkIndexed: %w", err)
	}

	rowsAffected, err := result.RowsAffected()
	if err != nil {
		return fmt.Errorf("MarkIndexed: %w", err)
	}
	if rowsAffected == 0 {
		return store.ErrNotFound
	}

	return nil
}

// ListUnindexed returns embedded records the vector index does not hold yet.
func (c *Client) ListUnindexed(ctx context.Context, limit int) ([]*store.Record, error) {
	if limit <= 0 {
		limit = 1000
	}

	query := fmt.Sprintf(`
		SELECT %s FROM %s
		WHERE indexed = FALSE AND embedding IS NOT NULL
		ORDER BY created_at ASC
		LIMIT $1
	`, recordColumns, c.tableName)

	return c.queryRecords(ctx, "ListUnindexed", query, []interface{}{limit})
}

// CountActive returns the number of non-expired records at nowMS.
func (c *Client) CountActive(ctx context.Context, nowMS int64) (int64, error) {
	query := fmt.Sprintf(`
		SELECT COUNT(*) FROM %s
		WHERE expire_at IS NULL OR expire_at > $1
	`, c.tableName)

	var count int64
	if err := c.db.QueryRowContext(ctx, query, nowMS).Scan(&count); err != nil {
		return 0, fmt.Errorf("CountActive: %w", err)
	}
	return count, nil
}

// CountExpired returns the number of logically expired records at nowMS.
func (c *Client) CountExpired(ctx context.Context, nowMS int64) (int64, error) {
	query := fmt.Sprintf(`
		SELECT COUNT(*) FROM %s
		WHERE expire_at IS NOT NULL AND expire_at <= $1
	`, c.tableName)

	var count int64
	if err := c.db.QueryRowContext(ctx, query, nowMS).Scan(&count); err != nil {
		return 0, fmt.Errorf("CountExpired: %w", err)
	}
	return count, nil
}

// Ping verifies backend connectivity.
func (c *Client) Ping(ctx context.Context) error {
	return c.db.PingContext(ctx)
}

// Close closes the database connection.
func (c *Client) Close() error {
	if c.db != nil {
		return c.db.Close()
	}
	return nil
}

// queryRecords runs a SELECT returning full record rows.
func (c *Client) queryRecords(ctx context.Context, op, query string, args []interface{}) ([]*store.Record, error) {
	rows, err := c.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("%s: %w", op, err)
	}
	defer func() { _ = rows.Close() }()

	var records []*store.Record
	for rows.Next() {
		rec, err := scanRecord(rows)
		if err != nil {
			return nil, fmt.Errorf("%s: %w", op, err)
		}
		records = append(records, rec)
	}

	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("%s: %w", op, err)
	}

	return records, nil
}
