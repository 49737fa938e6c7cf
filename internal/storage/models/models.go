package models

import "time"

// Document is the registry row of an ingested source document.
type Document struct {
	ID          string    `db:"id" json:"id"`
	URL         string    `db:"url" json:"url"`
	Title       string    `db:"title" json:"title"`
	ContentHash string    `db:"content_hash" json:"content_hash"`
	ChunkCount  int       `db:"chunk_count" json:"chunk_count"`
	CreatedAt   time.Time `db:"created_at" json:"created_at"`
	UpdatedAt   time.Time `db:"updated_at" json:"updated_at"`
}

type DocumentChunk struct {
	ID         string    `db:"id" json:"id"`
	DocID      string    `db:"doc_id" json:"doc_id"`
	ChunkIndex int       `db:"chunk_index" json:"chunk_index"`
	ChunkType  string    `db:"chunk_type" json:"chunk_type"`
	Embedded   bool      `db:"embedded" json:"embedded"`
	CreatedAt  time.Time `db:"created_at" json:"created_at"`
}

// IngestionRun is the audit row written for every enrichment pass so that
// index completeness can be checked after the fact.
type IngestionRun struct {
	ID             string    `db:"id" json:"id"`
	DocID          string    `db:"doc_id" json:"doc_id"`
	ChunksTotal    int       `db:"chunks_total" json:"chunks_total"`
	ChunksEmbedded int       `db:"chunks_embedded" json:"chunks_embedded"`
	ChunksSkipped  int       `db:"chunks_skipped" json:"chunks_skipped"`
	StoreFailures  int       `db:"store_failures" json:"store_failures"`
	Relationships  int       `db:"relationships" json:"relationships"`
	StartedAt      time.Time `db:"started_at" json:"started_at"`
	FinishedAt     time.Time `db:"finished_at" json:"finished_at"`
}
