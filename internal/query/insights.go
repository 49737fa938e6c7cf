package query

import (
	"context"
	"fmt"
	"strings"

	"go.uber.org/zap"

	"github.com/immigration-rag/backend/internal/metrics"
	"github.com/immigration-rag/backend/internal/relations"
	"github.com/immigration-rag/backend/internal/storage/models"
	"github.com/immigration-rag/backend/pkg/logger"
)

const insightsCachePrefix = "insights:"

type Source struct {
	Title string `json:"title"`
	URL   string `json:"url,omitempty"`
}

// EntityInsights aggregates what the index knows about one entity.
type EntityInsights struct {
	Entity               string                 `json:"entity"`
	Kind                 models.EntityKind      `json:"kind,omitempty"`
	TotalMentions        int                    `json:"total_mentions"`
	RelatedForms         []string               `json:"related_forms"`
	RelatedVisas         []string               `json:"related_visas"`
	Requirements         []string               `json:"requirements"`
	Fees                 []string               `json:"fees"`
	Countries            []string               `json:"countries"`
	Relationships        []models.Relationship  `json:"relationships"`
	ProcessFlows         [][]string             `json:"process_flows"`
	TemporalInfo         []models.TemporalFact  `json:"temporal_info"`
	AverageFreshness     float64                `json:"average_freshness"`
	Sources              []Source               `json:"sources"`
	Dependencies         relations.Dependencies `json:"dependencies"`
	CompleteProcessFlows [][]string             `json:"complete_process_flows"`
}

// EntityInsights searches for entity and aggregates the hits, then computes
// dependencies and process flows over the relationships found in the hits
// and in the graph store.
func (e *Engine) EntityInsights(ctx context.Context, entity string) (*EntityInsights, error) {
	entity = strings.TrimSpace(entity)
	if entity == "" {
		return nil, fmt.Errorf("%w: entity is empty", ErrInvalidArgument)
	}

	kind, canonical, known := e.vocab.Classify(entity)
	if known {
		entity = canonical
	}

	cacheKey := insightsCachePrefix + strings.ToUpper(entity)
	if e.cache != nil {
		var cached EntityInsights
		hit, err := e.cache.GetQuery(ctx, cacheKey, &cached)
		switch {
		case err != nil:
			logger.Warn("Insight cache read failed", zap.String("entity", entity), zap.Error(err))
		case hit:
			metrics.CacheHits.WithLabelValues("insights").Inc()
			return &cached, nil
		default:
			metrics.CacheMisses.WithLabelValues("insights").Inc()
		}
	}

	var filters Filters
	switch kind {
	case models.KindForm:
		filters.FormNumbers = []string{entity}
	case models.KindPermitType:
		filters.VisaTypes = []string{entity}
	case models.KindCountry:
		filters.Countries = []string{entity}
	}

	// An entity filter already guarantees relevance; only an unfiltered
	// lookup needs the score floor.
	minScore := e.cfg.MinScore
	if !filters.Empty() {
		minScore = 0
	}

	results, err := e.search(ctx, "information about "+entity, e.cfg.InsightsLimit, filters, minScore)
	if err != nil {
		return nil, err
	}

	insights := aggregate(entity, results)
	if known {
		insights.Kind = kind
	}

	graph := relations.NewGraph(insights.Relationships)
	if e.graph != nil {
		rels, err := e.graph.Neighbourhood(ctx, []string{entity}, e.cfg.FlowDepth, e.cfg.GraphMinConfidence)
		if err != nil {
			logger.Warn("Graph neighbourhood unavailable", zap.String("entity", entity), zap.Error(err))
		} else {
			graph.Merge(rels)
		}
	}
	insights.Relationships = graph.Relationships()
	insights.Dependencies = graph.Dependencies(entity)
	if insights.Dependencies.Prerequisites == nil {
		insights.Dependencies.Prerequisites = []string{}
	}
	insights.CompleteProcessFlows = graph.ProcessFlow(entity, e.cfg.FlowDepth)
	if insights.CompleteProcessFlows == nil {
		insights.CompleteProcessFlows = [][]string{}
	}

	if e.cache != nil {
		if err := e.cache.SetQuery(ctx, cacheKey, insights, e.cfg.CacheTTL); err != nil {
			logger.Warn("Insight cache write failed", zap.String("entity", entity), zap.Error(err))
		}
	}

	logger.Info("Entity insights generated",
		zap.String("entity", entity),
		zap.Int("mentions", insights.TotalMentions),
		zap.Int("relationships", len(insights.Relationships)),
	)

	return insights, nil
}

func aggregate(entity string, results []Result) *EntityInsights {
	in := &EntityInsights{
		Entity:        entity,
		TotalMentions: len(results),
		Relationships: []models.Relationship{},
		ProcessFlows:  [][]string{},
		TemporalInfo:  []models.TemporalFact{},
		Sources:       []Source{},
	}

	forms, visas := newUnion(), newUnion()
	reqs, fees, countries := newUnion(), newUnion(), newUnion()
	flows := map[string]bool{}
	facts := map[string]bool{}
	sources := map[string]bool{}
	total := 0.0

	for _, r := range results {
		rec := r.Record
		forms.add(rec.FormNumbers...)
		visas.add(rec.VisaTypes...)
		reqs.add(rec.Requirements...)
		fees.add(rec.Fees...)
		countries.add(rec.Countries...)
		in.Relationships = append(in.Relationships, rec.Relationships...)

		for _, f := range rec.ProcessFlows {
			key := strings.Join(f, "\x00")
			if !flows[key] {
				flows[key] = true
				in.ProcessFlows = append(in.ProcessFlows, f)
			}
		}
		for _, f := range rec.TemporalInfo {
			key := string(f.Type) + "|" + strings.ToLower(f.Text)
			if f.Date == nil || facts[key] {
				continue
			}
			facts[key] = true
			in.TemporalInfo = append(in.TemporalInfo, f)
		}

		key := rec.SourceURL
		if key == "" {
			key = "title:" + rec.DocumentTitle
		}
		if !sources[key] {
			sources[key] = true
			in.Sources = append(in.Sources, Source{Title: rec.DocumentTitle, URL: rec.SourceURL})
		}

		total += rec.FreshnessScore
	}

	in.RelatedForms = forms.values
	in.RelatedVisas = visas.values
	in.Requirements = reqs.values
	in.Fees = fees.values
	in.Countries = countries.values
	if len(results) > 0 {
		in.AverageFreshness = total / float64(len(results))
	}
	return in
}

// union collects distinct values in first-seen order, ignoring case.
type union struct {
	seen   map[string]bool
	values []string
}

func newUnion() *union {
	return &union{seen: map[string]bool{}, values: []string{}}
}

func (u *union) add(values ...string) {
	for _, v := range values {
		k := strings.ToUpper(v)
		if !u.seen[k] {
			u.seen[k] = true
			u.values = append(u.values, v)
		}
	}
}
