package models

import (
	"strings"
	"time"
)

type EntityKind string

const (
	KindForm        EntityKind = "form"
	KindPermitType  EntityKind = "permit_type"
	KindRequirement EntityKind = "requirement"
	KindFee         EntityKind = "fee"
	KindCountry     EntityKind = "country"
)

type ChunkType string

const (
	ChunkHeadingSection ChunkType = "heading-section"
	ChunkList           ChunkType = "list"
	ChunkTable          ChunkType = "table"
	ChunkNarrative      ChunkType = "narrative"
	ChunkMixed          ChunkType = "mixed"
)

func (t ChunkType) Valid() bool {
	switch t {
	case ChunkHeadingSection, ChunkList, ChunkTable, ChunkNarrative, ChunkMixed:
		return true
	}
	return false
}

type RelationshipType string

const (
	RelRequires      RelationshipType = "requires"
	RelLeadsTo       RelationshipType = "leads_to"
	RelConflictsWith RelationshipType = "conflicts_with"
	RelAlternativeTo RelationshipType = "alternative_to"
)

type TemporalType string

const (
	TemporalEffective   TemporalType = "effective"
	TemporalExpiration  TemporalType = "expiration"
	TemporalAsOf        TemporalType = "as_of"
	TemporalUnspecified TemporalType = "unspecified"
)

// EntitySet holds the vocabulary matches of one span of text. Values are
// canonical and unique within each list.
type EntitySet struct {
	Forms        []string `json:"form_numbers"`
	PermitTypes  []string `json:"visa_types"`
	Requirements []string `json:"requirements"`
	Fees         []string `json:"fees"`
	Countries    []string `json:"countries"`
}

func (s EntitySet) Empty() bool {
	return len(s.Forms) == 0 && len(s.PermitTypes) == 0 && len(s.Requirements) == 0 &&
		len(s.Fees) == 0 && len(s.Countries) == 0
}

// Nodes returns the entities that take part in the relationship graph.
func (s EntitySet) Nodes() []string {
	out := make([]string, 0, len(s.Forms)+len(s.PermitTypes))
	out = append(out, s.Forms...)
	return append(out, s.PermitTypes...)
}

type Chunk struct {
	Content         string    `json:"content"`
	ChunkType       ChunkType `json:"chunk_type"`
	SectionTitle    string    `json:"section_title"`
	SubsectionTitle string    `json:"subsection_title"`
	Index           int       `json:"chunk_index"`
	ConfidenceScore float64   `json:"confidence_score"`
	Entities        EntitySet `json:"entities"`
}

type Relationship struct {
	Source     string           `json:"source"`
	Target     string           `json:"target"`
	Type       RelationshipType `json:"type"`
	Confidence float64          `json:"confidence"`
	Context    string           `json:"context"`
	Countries  []string         `json:"countries,omitempty"`
}

// Key identifies a relationship independent of its confidence and context.
func (r Relationship) Key() string {
	return strings.ToUpper(r.Source) + "|" + string(r.Type) + "|" + strings.ToUpper(r.Target)
}

// Touches reports whether entity is either endpoint, ignoring case.
func (r Relationship) Touches(entity string) bool {
	return strings.EqualFold(r.Source, entity) || strings.EqualFold(r.Target, entity)
}

type TemporalFact struct {
	Type       TemporalType `json:"type"`
	Text       string       `json:"text"`
	Date       *time.Time   `json:"date"`
	Partial    bool         `json:"partial,omitempty"`
	Confidence float64      `json:"confidence"`
	Context    string       `json:"context"`
}

type TemporalSummary struct {
	IsCurrent       bool       `json:"is_current"`
	FreshnessScore  float64    `json:"freshness_score"`
	EffectiveDate   *time.Time `json:"effective_date"`
	ExpirationDate  *time.Time `json:"expiration_date"`
	EffectiveDates  []string   `json:"effective_dates"`
	ExpirationDates []string   `json:"expiration_dates"`
}

// EnrichedRecord is the persisted unit of the index. The JSON field names
// are the payload contract shared with every store and consumer.
type EnrichedRecord struct {
	ID              string              `json:"id"`
	DocumentID      string              `json:"document_id"`
	Content         string              `json:"content"`
	DocumentTitle   string              `json:"document_title"`
	SourceURL       string              `json:"source_url"`
	ChunkType       ChunkType           `json:"chunk_type"`
	SectionTitle    string              `json:"section_title"`
	SubsectionTitle string              `json:"subsection_title"`
	ChunkIndex      int                 `json:"chunk_index"`
	ConfidenceScore float64             `json:"confidence_score"`
	FormNumbers     []string            `json:"form_numbers"`
	VisaTypes       []string            `json:"visa_types"`
	Requirements    []string            `json:"requirements"`
	Fees            []string            `json:"fees"`
	Countries       []string            `json:"countries"`
	Relationships   []Relationship      `json:"relationships"`
	Dependencies    map[string][]string `json:"dependencies"`
	ProcessFlows    [][]string          `json:"process_flows"`
	TemporalInfo    []TemporalFact      `json:"temporal_info"`
	IsCurrent       bool                `json:"is_current"`
	FreshnessScore  float64             `json:"freshness_score"`
	EffectiveDate   *time.Time          `json:"effective_date"`
	ExpirationDate  *time.Time          `json:"expiration_date"`
	IndexedAt       time.Time           `json:"indexed_at"`

	Embedding []float32 `json:"-"`
}

func (r *EnrichedRecord) Entities() EntitySet {
	return EntitySet{
		Forms:        r.FormNumbers,
		PermitTypes:  r.VisaTypes,
		Requirements: r.Requirements,
		Fees:         r.Fees,
		Countries:    r.Countries,
	}
}
