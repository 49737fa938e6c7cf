package neo4j

import (
	"context"
	"fmt"
	"time"

	"github.com/neo4j/neo4j-go-driver/v5/neo4j"
	"go.uber.org/zap"

	"github.com/immigration-rag/backend/internal/metrics"
	"github.com/immigration-rag/backend/internal/storage/models"
	"github.com/immigration-rag/backend/pkg/circuitbreaker"
	"github.com/immigration-rag/backend/pkg/logger"
	"github.com/immigration-rag/backend/pkg/retry"
)

const maxHops = 4

// Client persists the relationship graph. Entities are nodes keyed by
// their canonical value and relationships are RELATES edges carrying the
// relationship type, best confidence, and the documents that asserted them.
type Client struct {
	driver      neo4j.DriverWithContext
	database    string
	cb          *circuitbreaker.CircuitBreaker
	retryConfig retry.Config
}

func NewClient(ctx context.Context, uri, username, password, database string) (*Client, error) {
	driver, err := neo4j.NewDriverWithContext(
		uri,
		neo4j.BasicAuth(username, password, ""),
	)
	if err != nil {
		return nil, fmt.Errorf("failed to create neo4j driver: %w", err)
	}

	if err := driver.VerifyConnectivity(ctx); err != nil {
		_ = driver.Close(ctx)
		return nil, fmt.Errorf("failed to verify connectivity: %w", err)
	}

	cb := circuitbreaker.NewCircuitBreaker("neo4j", circuitbreaker.Config{
		MaxRequests:      3,
		Interval:         time.Minute,
		Timeout:          20 * time.Second,
		FailureThreshold: 5,
		SuccessThreshold: 2,
		OnStateChange: func(name string, _ circuitbreaker.State, to circuitbreaker.State) {
			metrics.BreakerStateChanges.WithLabelValues(name, to.String()).Inc()
		},
		Logger: logger.GetLogger(),
	})

	retryConfig := retry.Config{
		MaxAttempts:    3,
		InitialDelay:   200 * time.Millisecond,
		MaxDelay:       3 * time.Second,
		Multiplier:     2.0,
		JitterFraction: 0.1,
		Logger:         logger.GetLogger(),
	}

	if database == "" {
		database = "neo4j"
	}

	logger.Info("Neo4j client initialized", zap.String("uri", uri), zap.String("database", database))

	return &Client{
		driver:      driver,
		database:    database,
		cb:          cb,
		retryConfig: retryConfig,
	}, nil
}

func (c *Client) Close(ctx context.Context) error {
	return c.driver.Close(ctx)
}

func (c *Client) executeWithRetry(ctx context.Context, operation func(neo4j.SessionWithContext) error) error {
	ctx, cancel := context.WithTimeout(ctx, 10*time.Second)
	defer cancel()

	return c.cb.Execute(ctx, func() error {
		return retry.Do(ctx, c.retryConfig, func() error {
			session := c.driver.NewSession(ctx, neo4j.SessionConfig{DatabaseName: c.database})
			defer session.Close(ctx)

			err := operation(session)
			if err != nil && !neo4j.IsRetryable(err) {
				return retry.Permanent(err)
			}
			return err
		})
	})
}

func (c *Client) run(ctx context.Context, query string, params map[string]any) error {
	return c.executeWithRetry(ctx, func(session neo4j.SessionWithContext) error {
		result, err := session.Run(ctx, query, params)
		if err != nil {
			return err
		}
		_, err = result.Consume(ctx)
		return err
	})
}

func (c *Client) EnsureSchema(ctx context.Context) error {
	query := `CREATE CONSTRAINT entity_name IF NOT EXISTS FOR (e:Entity) REQUIRE e.name IS UNIQUE`
	if err := c.run(ctx, query, nil); err != nil {
		return fmt.Errorf("failed to create entity constraint: %w", err)
	}
	return nil
}

// UpsertRelationships merges the edges asserted by one document. An edge
// keeps the highest confidence any document gave it.
func (c *Client) UpsertRelationships(ctx context.Context, documentID string, rels []models.Relationship) error {
	if len(rels) == 0 {
		return nil
	}

	rows := make([]map[string]any, 0, len(rels))
	for _, r := range rels {
		countries := r.Countries
		if countries == nil {
			countries = []string{}
		}
		rows = append(rows, map[string]any{
			"source":     r.Source,
			"target":     r.Target,
			"type":       string(r.Type),
			"confidence": r.Confidence,
			"context":    r.Context,
			"countries":  countries,
		})
	}

	query := `
		UNWIND $rels AS rel
		MERGE (s:Entity {name: rel.source})
		MERGE (t:Entity {name: rel.target})
		MERGE (s)-[r:RELATES {type: rel.type}]->(t)
		SET r.context = CASE WHEN r.confidence IS NULL OR rel.confidence >= r.confidence THEN rel.context ELSE r.context END,
		    r.countries = CASE WHEN r.confidence IS NULL OR rel.confidence >= r.confidence THEN rel.countries ELSE r.countries END,
		    r.confidence = CASE WHEN r.confidence IS NULL OR rel.confidence > r.confidence THEN rel.confidence ELSE r.confidence END,
		    r.source_docs = CASE WHEN $doc IN coalesce(r.source_docs, []) THEN r.source_docs ELSE coalesce(r.source_docs, []) + $doc END,
		    r.updated_at = timestamp()
	`

	err := c.run(ctx, query, map[string]any{"rels": rows, "doc": documentID})
	if err != nil {
		return fmt.Errorf("failed to upsert relationships: %w", err)
	}

	logger.Debug("Relationships merged into KG",
		zap.String("document_id", documentID),
		zap.Int("count", len(rels)),
	)
	return nil
}

// Neighbourhood returns every edge within hops of the given entities, in
// either direction, with at least minConfidence.
func (c *Client) Neighbourhood(ctx context.Context, entities []string, hops int, minConfidence float64) ([]models.Relationship, error) {
	if len(entities) == 0 {
		return nil, nil
	}
	if hops < 1 {
		hops = 1
	}
	if hops > maxHops {
		hops = maxHops
	}

	// Cypher does not accept a parameter as a path length bound.
	query := fmt.Sprintf(`
		MATCH path = (s:Entity)-[:RELATES*1..%d]-(:Entity)
		WHERE s.name IN $entities
		  AND all(rel IN relationships(path) WHERE rel.confidence >= $min_confidence)
		UNWIND relationships(path) AS r
		WITH DISTINCT r
		RETURN startNode(r).name AS source, endNode(r).name AS target,
		       r.type AS type, r.confidence AS confidence,
		       r.context AS context, r.countries AS countries
		ORDER BY confidence DESC
		LIMIT 500
	`, hops)

	var rels []models.Relationship
	err := c.executeWithRetry(ctx, func(session neo4j.SessionWithContext) error {
		rels = rels[:0]
		result, err := session.Run(ctx, query, map[string]any{
			"entities":       entities,
			"min_confidence": minConfidence,
		})
		if err != nil {
			return err
		}

		for result.Next(ctx) {
			record := result.Record()

			source, _ := record.Get("source")
			target, _ := record.Get("target")
			relType, _ := record.Get("type")
			confidence, _ := record.Get("confidence")
			ctxText, _ := record.Get("context")
			countries, _ := record.Get("countries")

			rel := models.Relationship{
				Source:    asString(source),
				Target:    asString(target),
				Type:      models.RelationshipType(asString(relType)),
				Context:   asString(ctxText),
				Countries: asStrings(countries),
			}
			if f, ok := confidence.(float64); ok {
				rel.Confidence = f
			}
			rels = append(rels, rel)
		}
		return result.Err()
	})
	if err != nil {
		return nil, fmt.Errorf("failed to query neighbourhood: %w", err)
	}

	logger.Debug("KG neighbourhood loaded",
		zap.Int("num_entities", len(entities)),
		zap.Int("relationships", len(rels)),
	)

	return rels, nil
}

// DeleteDocument withdraws a document's assertions. Edges no other
// document asserts are removed, then any entity left without edges.
func (c *Client) DeleteDocument(ctx context.Context, documentID string) error {
	query := `
		MATCH ()-[r:RELATES]->()
		WHERE $doc IN r.source_docs
		SET r.source_docs = [d IN r.source_docs WHERE d <> $doc]
		WITH r WHERE size(r.source_docs) = 0
		DELETE r
	`
	if err := c.run(ctx, query, map[string]any{"doc": documentID}); err != nil {
		return fmt.Errorf("failed to delete document relationships: %w", err)
	}

	if err := c.run(ctx, `MATCH (e:Entity) WHERE NOT (e)--() DELETE e`, nil); err != nil {
		return fmt.Errorf("failed to delete orphan entities: %w", err)
	}
	return nil
}

func (c *Client) Clear(ctx context.Context) error {
	if err := c.run(ctx, `MATCH (e:Entity) DETACH DELETE e`, nil); err != nil {
		return fmt.Errorf("failed to clear graph: %w", err)
	}
	logger.Info("KG cleared")
	return nil
}

func asString(v any) string {
	s, _ := v.(string)
	return s
}

func asStrings(v any) []string {
	items, ok := v.([]any)
	if !ok || len(items) == 0 {
		return nil
	}
	out := make([]string, 0, len(items))
	for _, item := range items {
		if s, ok := item.(string); ok {
			out = append(out, s)
		}
	}
	return out
}
