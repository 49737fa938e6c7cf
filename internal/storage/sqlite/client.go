package sqlite

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/jmoiron/sqlx"
	_ "github.com/mattn/go-sqlite3"
	"go.uber.org/zap"

	"github.com/immigration-rag/backend/internal/storage/models"
	"github.com/immigration-rag/backend/pkg/logger"
)

var ErrNotFound = errors.New("not found")

// Client is the document registry: which documents are indexed, under
// which chunk ids, and how each ingestion run went.
type Client struct {
	db *sqlx.DB
}

func NewClient(dbPath string) (*Client, error) {
	if dbPath != ":memory:" {
		if err := os.MkdirAll(filepath.Dir(dbPath), 0o755); err != nil {
			return nil, fmt.Errorf("failed to create database directory: %w", err)
		}
	}

	db, err := sqlx.Connect("sqlite3", dbPath)
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}

	if dbPath == ":memory:" {
		// every pooled connection would otherwise get its own empty database
		db.SetMaxOpenConns(1)
	}

	if _, err := db.Exec("PRAGMA foreign_keys = ON"); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("failed to enable foreign keys: %w", err)
	}

	if _, err := db.Exec("PRAGMA journal_mode = WAL"); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("failed to enable WAL mode: %w", err)
	}

	logger.Info("SQLite client initialized", zap.String("path", dbPath))

	return &Client{db: db}, nil
}

func (c *Client) Close() error {
	return c.db.Close()
}

func (c *Client) InitSchema() error {
	schema := []string{
		`CREATE TABLE IF NOT EXISTS documents (
			id TEXT PRIMARY KEY,
			url TEXT NOT NULL DEFAULT '',
			title TEXT NOT NULL,
			content_hash TEXT NOT NULL,
			chunk_count INTEGER NOT NULL DEFAULT 0,
			created_at DATETIME NOT NULL,
			updated_at DATETIME NOT NULL
		)`,
		`CREATE INDEX IF NOT EXISTS idx_documents_updated ON documents(updated_at)`,

		`CREATE TABLE IF NOT EXISTS document_chunks (
			id TEXT PRIMARY KEY,
			doc_id TEXT NOT NULL,
			chunk_index INTEGER NOT NULL,
			chunk_type TEXT NOT NULL,
			embedded INTEGER NOT NULL DEFAULT 0,
			created_at DATETIME NOT NULL,
			FOREIGN KEY (doc_id) REFERENCES documents(id) ON DELETE CASCADE
		)`,
		`CREATE INDEX IF NOT EXISTS idx_chunks_doc ON document_chunks(doc_id)`,

		`CREATE TABLE IF NOT EXISTS ingestion_runs (
			id TEXT PRIMARY KEY,
			doc_id TEXT NOT NULL,
			chunks_total INTEGER NOT NULL,
			chunks_embedded INTEGER NOT NULL,
			chunks_skipped INTEGER NOT NULL,
			store_failures INTEGER NOT NULL,
			relationships INTEGER NOT NULL,
			started_at DATETIME NOT NULL,
			finished_at DATETIME NOT NULL
		)`,
		`CREATE INDEX IF NOT EXISTS idx_runs_doc ON ingestion_runs(doc_id, started_at)`,
	}

	for _, stmt := range schema {
		if _, err := c.db.Exec(stmt); err != nil {
			return fmt.Errorf("failed to initialize schema: %w", err)
		}
	}

	logger.Info("SQLite schema initialized")
	return nil
}

// RegisterDocument upserts the document row and merges chunk rows by id.
// Chunks registered earlier and absent from chunks are kept; TrimChunks
// removes the ones a newer pass no longer produces. chunk_count is the
// number of embedded chunks after the merge.
func (c *Client) RegisterDocument(ctx context.Context, doc *models.Document, chunks []models.DocumentChunk) error {
	tx, err := c.db.BeginTxx(ctx, nil)
	if err != nil {
		return fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer tx.Rollback()

	now := time.Now().UTC()
	if doc.CreatedAt.IsZero() {
		doc.CreatedAt = now
	}
	doc.UpdatedAt = now

	_, err = tx.NamedExecContext(ctx, `
		INSERT INTO documents (id, url, title, content_hash, chunk_count, created_at, updated_at)
		VALUES (:id, :url, :title, :content_hash, :chunk_count, :created_at, :updated_at)
		ON CONFLICT(id) DO UPDATE SET
			url = excluded.url,
			title = excluded.title,
			content_hash = excluded.content_hash,
			updated_at = excluded.updated_at
	`, doc)
	if err != nil {
		return fmt.Errorf("failed to upsert document: %w", err)
	}

	for i := range chunks {
		chunks[i].DocID = doc.ID
		if chunks[i].CreatedAt.IsZero() {
			chunks[i].CreatedAt = now
		}
	}
	if len(chunks) > 0 {
		_, err = tx.NamedExecContext(ctx, `
			INSERT INTO document_chunks (id, doc_id, chunk_index, chunk_type, embedded, created_at)
			VALUES (:id, :doc_id, :chunk_index, :chunk_type, :embedded, :created_at)
			ON CONFLICT(id) DO UPDATE SET
				chunk_index = excluded.chunk_index,
				chunk_type = excluded.chunk_type,
				embedded = excluded.embedded
		`, chunks)
		if err != nil {
			return fmt.Errorf("failed to upsert chunks: %w", err)
		}
	}

	if err := refreshChunkCount(ctx, tx, doc.ID); err != nil {
		return err
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("failed to commit: %w", err)
	}

	logger.Debug("Document registered", zap.String("document_id", doc.ID), zap.Int("chunks", len(chunks)))
	return nil
}

// TrimChunks drops chunk rows at or beyond total, the chunk count of the
// document's latest pass, and records that pass's content hash.
func (c *Client) TrimChunks(ctx context.Context, docID string, total int, contentHash string) error {
	tx, err := c.db.BeginTxx(ctx, nil)
	if err != nil {
		return fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer tx.Rollback()

	if _, err := tx.ExecContext(ctx,
		`DELETE FROM document_chunks WHERE doc_id = ? AND chunk_index >= ?`, docID, total); err != nil {
		return fmt.Errorf("failed to trim chunks: %w", err)
	}
	if contentHash != "" {
		if _, err := tx.ExecContext(ctx,
			`UPDATE documents SET content_hash = ? WHERE id = ?`, contentHash, docID); err != nil {
			return fmt.Errorf("failed to update content hash: %w", err)
		}
	}
	if err := refreshChunkCount(ctx, tx, docID); err != nil {
		return err
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("failed to commit: %w", err)
	}
	return nil
}

func refreshChunkCount(ctx context.Context, tx *sqlx.Tx, docID string) error {
	_, err := tx.ExecContext(ctx, `
		UPDATE documents SET chunk_count =
			(SELECT COUNT(*) FROM document_chunks WHERE doc_id = ? AND embedded = 1)
		WHERE id = ?
	`, docID, docID)
	if err != nil {
		return fmt.Errorf("failed to update chunk count: %w", err)
	}
	return nil
}

func (c *Client) GetDocument(ctx context.Context, id string) (*models.Document, error) {
	var doc models.Document
	err := c.db.GetContext(ctx, &doc, `SELECT * FROM documents WHERE id = ?`, id)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, fmt.Errorf("document %s: %w", id, ErrNotFound)
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get document: %w", err)
	}
	return &doc, nil
}

func (c *Client) ListDocuments(ctx context.Context, limit int) ([]models.Document, error) {
	if limit <= 0 {
		limit = 100
	}
	docs := []models.Document{}
	err := c.db.SelectContext(ctx, &docs, `SELECT * FROM documents ORDER BY updated_at DESC LIMIT ?`, limit)
	if err != nil {
		return nil, fmt.Errorf("failed to list documents: %w", err)
	}
	return docs, nil
}

func (c *Client) GetChunks(ctx context.Context, docID string) ([]models.DocumentChunk, error) {
	chunks := []models.DocumentChunk{}
	err := c.db.SelectContext(ctx, &chunks,
		`SELECT * FROM document_chunks WHERE doc_id = ? ORDER BY chunk_index`, docID)
	if err != nil {
		return nil, fmt.Errorf("failed to get chunks: %w", err)
	}
	return chunks, nil
}

func (c *Client) CountDocuments(ctx context.Context) (int64, error) {
	var n int64
	if err := c.db.GetContext(ctx, &n, `SELECT COUNT(*) FROM documents`); err != nil {
		return 0, fmt.Errorf("failed to count documents: %w", err)
	}
	return n, nil
}

// DeleteDocument removes the document and, by cascade, its chunk rows. Run
// history is kept.
func (c *Client) DeleteDocument(ctx context.Context, id string) error {
	res, err := c.db.ExecContext(ctx, `DELETE FROM documents WHERE id = ?`, id)
	if err != nil {
		return fmt.Errorf("failed to delete document: %w", err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return fmt.Errorf("document %s: %w", id, ErrNotFound)
	}
	return nil
}

func (c *Client) RecordRun(ctx context.Context, run *models.IngestionRun) error {
	_, err := c.db.NamedExecContext(ctx, `
		INSERT INTO ingestion_runs (id, doc_id, chunks_total, chunks_embedded, chunks_skipped,
			store_failures, relationships, started_at, finished_at)
		VALUES (:id, :doc_id, :chunks_total, :chunks_embedded, :chunks_skipped,
			:store_failures, :relationships, :started_at, :finished_at)
	`, run)
	if err != nil {
		return fmt.Errorf("failed to record ingestion run: %w", err)
	}
	return nil
}

func (c *Client) RecentRuns(ctx context.Context, docID string, limit int) ([]models.IngestionRun, error) {
	if limit <= 0 {
		limit = 10
	}
	runs := []models.IngestionRun{}
	err := c.db.SelectContext(ctx, &runs, `
		SELECT * FROM ingestion_runs WHERE doc_id = ? ORDER BY started_at DESC LIMIT ?
	`, docID, limit)
	if err != nil {
		return nil, fmt.Errorf("failed to get ingestion runs: %w", err)
	}
	return runs, nil
}

// Clear empties the registry. Run history is kept.
func (c *Client) Clear(ctx context.Context) error {
	if _, err := c.db.ExecContext(ctx, `DELETE FROM documents`); err != nil {
		return fmt.Errorf("failed to clear documents: %w", err)
	}
	logger.Info("Document registry cleared")
	return nil
}
