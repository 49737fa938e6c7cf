package query

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"go.uber.org/zap"

	"github.com/immigration-rag/backend/internal/relations"
	"github.com/immigration-rag/backend/pkg/logger"
)

const remediation = "Address the identified conflicts and missing requirements before proceeding"

type TimelineEstimate struct {
	MinDays     int    `json:"min_days"`
	MaxDays     int    `json:"max_days"`
	Description string `json:"description"`
}

// PathValidation is a combination check enriched with what the index knows
// about each entity.
type PathValidation struct {
	relations.Validation
	Country              string                      `json:"context_country,omitempty"`
	EntityInsights       map[string]*EntityInsights  `json:"entity_insights"`
	TimelineEstimate     map[string]TimelineEstimate `json:"timeline_estimate"`
	RecommendedNextSteps []string                    `json:"recommended_next_steps"`
}

// ValidateUserPath checks whether entities can be pursued together in
// country. Insight failures for one entity are reported as warnings.
func (e *Engine) ValidateUserPath(ctx context.Context, entities []string, country string) (*PathValidation, error) {
	entities = e.canonicalEntities(entities)
	if len(entities) == 0 {
		return nil, fmt.Errorf("%w: at least one entity is required", ErrInvalidArgument)
	}
	country = strings.TrimSpace(country)
	if country != "" {
		if _, c, ok := e.vocab.Classify(country); ok {
			country = c
		}
	}

	out := &PathValidation{
		Country:              country,
		EntityInsights:       map[string]*EntityInsights{},
		TimelineEstimate:     map[string]TimelineEstimate{},
		RecommendedNextSteps: []string{},
	}

	graph := relations.NewGraph(nil)
	var unavailable []string
	for _, entity := range entities {
		insights, err := e.EntityInsights(ctx, entity)
		if err != nil {
			if ctx.Err() != nil || errors.Is(err, ErrInvalidArgument) {
				return nil, err
			}
			logger.Warn("Entity insights unavailable", zap.String("entity", entity), zap.Error(err))
			unavailable = append(unavailable, entity)
			continue
		}
		out.EntityInsights[entity] = insights
		graph.Merge(insights.Relationships)

		if est, ok := e.tracker.ProcessingEstimate(entity); ok {
			out.TimelineEstimate[entity] = TimelineEstimate{
				MinDays:     est.MinDays,
				MaxDays:     est.MaxDays,
				Description: est.Description(),
			}
		}
	}

	out.Validation = graph.ValidateCombination(entities, country)
	for _, entity := range unavailable {
		out.Warnings = append(out.Warnings, "Insights unavailable for "+entity)
	}

	if !out.Valid {
		out.RecommendedNextSteps = append(out.RecommendedNextSteps, remediation)
		for _, c := range out.Conflicts {
			out.RecommendedNextSteps = append(out.RecommendedNextSteps,
				fmt.Sprintf("Choose between %s and %s: %s", c.Entity1, c.Entity2, c.Reason))
		}
		for _, m := range out.MissingPrerequisites {
			out.RecommendedNextSteps = append(out.RecommendedNextSteps,
				fmt.Sprintf("Complete %s before %s", m.Requires, m.Entity))
		}
	} else {
		chosen := map[string]bool{}
		for _, entity := range entities {
			chosen[strings.ToUpper(entity)] = true
		}
		seen := map[string]bool{}
		for _, entity := range entities {
			for _, flow := range graph.ProcessFlow(entity, 2) {
				if len(flow) < 2 || chosen[strings.ToUpper(flow[1])] {
					continue
				}
				step := fmt.Sprintf("Consider %s as next step after %s", flow[1], entity)
				if !seen[step] {
					seen[step] = true
					out.RecommendedNextSteps = append(out.RecommendedNextSteps, step)
				}
			}
		}
	}

	logger.Info("User path validated",
		zap.Strings("entities", entities),
		zap.String("country", country),
		zap.Bool("valid", out.Valid),
	)

	return out, nil
}

func (e *Engine) canonicalEntities(entities []string) []string {
	seen := map[string]bool{}
	out := make([]string, 0, len(entities))
	for _, entity := range entities {
		entity = strings.TrimSpace(entity)
		if entity == "" {
			continue
		}
		if _, c, ok := e.vocab.Classify(entity); ok {
			entity = c
		}
		if key := strings.ToUpper(entity); !seen[key] {
			seen[key] = true
			out = append(out, entity)
		}
	}
	return out
}
