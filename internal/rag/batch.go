package rag

import (
	"context"
	"time"

	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/immigration-rag/backend/pkg/logger"
)

type DocumentInput struct {
	Title     string `json:"title"`
	Content   string `json:"content"`
	SourceURL string `json:"source_url"`
}

type DocumentReport struct {
	DocumentID    string `json:"document_id"`
	Title         string `json:"title"`
	SourceURL     string `json:"source_url,omitempty"`
	ChunksTotal   int    `json:"chunks_total"`
	Stored        int    `json:"stored"`
	Skipped       []int  `json:"skipped_chunks"`
	StoreFailures int    `json:"store_failures"`
	Relationships int    `json:"relationships"`
	Error         string `json:"error,omitempty"`
}

type BatchReport struct {
	Documents  []DocumentReport `json:"documents"`
	Succeeded  int              `json:"succeeded"`
	Failed     int              `json:"failed"`
	DurationMS int64            `json:"duration_ms"`
}

// IngestBatch ingests documents concurrently, each under its own timeout.
// A failing document is reported and does not affect the others.
func (s *Service) IngestBatch(ctx context.Context, docs []DocumentInput) BatchReport {
	start := time.Now()
	reports := make([]DocumentReport, len(docs))

	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(s.cfg.Workers)

	for i, doc := range docs {
		g.Go(func() error {
			dctx, cancel := context.WithTimeout(gctx, s.cfg.DocumentTimeout)
			defer cancel()

			report, err := s.Ingest(dctx, doc)
			if report != nil {
				reports[i] = *report
			} else {
				reports[i] = DocumentReport{Title: doc.Title, SourceURL: doc.SourceURL, Skipped: []int{}}
			}
			if err != nil {
				reports[i].Error = err.Error()
				logger.Warn("Document ingestion failed",
					zap.String("title", doc.Title),
					zap.String("source_url", doc.SourceURL),
					zap.Error(err),
				)
			}
			return nil
		})
	}
	_ = g.Wait()

	out := BatchReport{Documents: reports, DurationMS: time.Since(start).Milliseconds()}
	for _, r := range reports {
		if r.Error == "" {
			out.Succeeded++
		} else {
			out.Failed++
		}
	}

	logger.Info("Batch ingestion completed",
		zap.Int("documents", len(docs)),
		zap.Int("succeeded", out.Succeeded),
		zap.Int("failed", out.Failed),
		zap.Int64("duration_ms", out.DurationMS),
	)

	return out
}
