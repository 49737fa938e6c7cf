package relations

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/immigration-rag/backend/internal/storage/models"
	"github.com/immigration-rag/backend/internal/vocab"
)

func find(rels []models.Relationship, source, target string, kind models.RelationshipType) (models.Relationship, bool) {
	for _, r := range rels {
		if r.Source == source && r.Target == target && r.Type == kind {
			return r, true
		}
	}
	return models.Relationship{}, false
}

func TestExtract_RequiredBefore(t *testing.T) {
	e := NewExtractor(vocab.Default())
	rels := e.Extract("Form I-130 must be approved before filing Form I-485.", []string{"I-130", "I-485"}, nil)

	require.Len(t, rels, 1)
	r := rels[0]
	assert.Equal(t, "I-485", r.Source)
	assert.Equal(t, "I-130", r.Target)
	assert.Equal(t, models.RelRequires, r.Type)
	assert.Greater(t, r.Confidence, 0.5)
	assert.Equal(t, "Form I-130 must be approved before filing Form I-485.", r.Context)
}

func TestExtract_ConnectiveTypes(t *testing.T) {
	tests := []struct {
		name   string
		text   string
		source string
		target string
		kind   models.RelationshipType
	}{
		{"must first", "Before filing Form I-485, you must first file Form I-130.", "I-485", "I-130", models.RelRequires},
		{"requires", "Form I-129F requires Form I-134 in some cases.", "I-129F", "I-134", models.RelRequires},
		{"prior to", "Submit Form I-864 prior to Form I-485 review.", "I-485", "I-864", models.RelRequires},
		{"conflict", "Form I-131 cannot be combined with Form I-600 in one packet.", "I-131", "I-600", models.RelConflictsWith},
		{"mutually exclusive", "Form I-130 and Form I-360 are mutually exclusive.", "I-130", "I-360", models.RelConflictsWith},
		{"leads to", "Holding F-1 status often leads to H-1B employment.", "F-1", "H-1B", models.RelLeadsTo},
		{"after prefix", "After I-130 approval, file I-485 with the agency.", "I-130", "I-485", models.RelLeadsTo},
		{"instead of", "Some applicants file Form I-129F instead of Form I-130.", "I-129F", "I-130", models.RelAlternativeTo},
	}
	e := NewExtractor(vocab.Default())
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			rels := e.Extract(tt.text, nil, nil)
			r, ok := find(rels, tt.source, tt.target, tt.kind)
			require.True(t, ok, "got %+v", rels)
			assert.Greater(t, r.Confidence, 0.0)
			assert.LessOrEqual(t, r.Confidence, 1.0)
		})
	}
}

func TestExtract_SpecificLanguageScoresHigher(t *testing.T) {
	e := NewExtractor(vocab.Default())
	explicit := e.Extract("Form I-130 must be approved before filing Form I-485.", nil, nil)
	loose := e.Extract("Form I-130 comes before Form I-485.", nil, nil)

	require.Len(t, explicit, 1)
	require.Len(t, loose, 1)
	assert.Greater(t, explicit[0].Confidence, loose[0].Confidence)
}

func TestExtract_ListOfPrerequisites(t *testing.T) {
	e := NewExtractor(vocab.Default())
	rels := e.Extract("Form I-485 requires Form I-864, I-693 and I-765.", nil, nil)

	for _, target := range []string{"I-864", "I-693", "I-765"} {
		_, ok := find(rels, "I-485", target, models.RelRequires)
		assert.True(t, ok, "missing I-485 requires %s", target)
	}
}

func TestExtract_Alternatively(t *testing.T) {
	e := NewExtractor(vocab.Default())
	rels := e.Extract("Most students apply for F-1 status. Alternatively, short courses may use B-2 status.", nil, nil)
	_, ok := find(rels, "B-2", "F-1", models.RelAlternativeTo)
	assert.True(t, ok, "got %+v", rels)
}

func TestExtract_RestrictsToKnownEntities(t *testing.T) {
	e := NewExtractor(vocab.Default())
	rels := e.Extract("Form I-130 must be approved before filing Form I-485.", []string{"I-130"}, nil)
	assert.Empty(t, rels)
}

func TestExtract_NoConnectiveNoEdge(t *testing.T) {
	e := NewExtractor(vocab.Default())
	assert.Empty(t, e.Extract("Form I-130 and Form I-485 are published by USCIS.", nil, nil))
	assert.Empty(t, e.Extract("", nil, nil))
}

func TestExtract_CountriesScopeEdge(t *testing.T) {
	e := NewExtractor(vocab.Default())
	rels := e.Extract("In Canada, Form I-130 must be approved before filing Form I-485.", nil, nil)
	require.Len(t, rels, 1)
	assert.Equal(t, []string{"Canada"}, rels[0].Countries)
}

func TestGraph_AddKeepsHighestConfidence(t *testing.T) {
	g := NewGraph(nil)
	g.Add(models.Relationship{Source: "I-485", Target: "I-130", Type: models.RelRequires, Confidence: 0.6, Context: "weak"})
	g.Add(models.Relationship{Source: "i-485", Target: "i-130", Type: models.RelRequires, Confidence: 0.9, Context: "strong"})
	g.Add(models.Relationship{Source: "I-485", Target: "I-130", Type: models.RelLeadsTo, Confidence: 0.5})
	g.Add(models.Relationship{Source: "I-485", Target: "I-130", Type: models.RelRequires, Confidence: 0.7})

	rels := g.Relationships()
	require.Len(t, rels, 2)
	assert.Equal(t, "strong", rels[0].Context)
	assert.Equal(t, 0.9, rels[0].Confidence)
}

func chain() *Graph {
	return NewGraph([]models.Relationship{
		{Source: "N-400", Target: "I-485", Type: models.RelRequires, Confidence: 0.9},
		{Source: "I-485", Target: "I-130", Type: models.RelRequires, Confidence: 0.9},
		{Source: "I-485", Target: "I-864", Type: models.RelRequires, Confidence: 0.9},
		{Source: "I-864", Target: "I-130", Type: models.RelRequires, Confidence: 0.8},
	})
}

func TestDependencies_ExecutionOrder(t *testing.T) {
	deps := chain().Dependencies("n-400")
	assert.Equal(t, []string{"I-130", "I-864", "I-485"}, deps.Prerequisites)
	assert.Empty(t, deps.Cycles)
}

func TestDependencies_CycleTerminates(t *testing.T) {
	g := NewGraph([]models.Relationship{
		{Source: "A", Target: "B", Type: models.RelRequires, Confidence: 0.9},
		{Source: "B", Target: "C", Type: models.RelRequires, Confidence: 0.9},
		{Source: "C", Target: "A", Type: models.RelRequires, Confidence: 0.9},
	})
	deps := g.Dependencies("A")
	assert.Equal(t, []string{"C", "B"}, deps.Prerequisites)
	require.Len(t, deps.Cycles, 1)
	assert.Equal(t, []string{"A", "B", "C", "A"}, deps.Cycles[0])
}

func TestDependencies_UnknownEntity(t *testing.T) {
	deps := chain().Dependencies("I-999")
	assert.Empty(t, deps.Prerequisites)
	assert.Empty(t, deps.Cycles)
}

func TestProcessFlow(t *testing.T) {
	g := NewGraph([]models.Relationship{
		{Source: "F-1", Target: "OPT", Type: models.RelLeadsTo, Confidence: 0.8},
		{Source: "OPT", Target: "H-1B", Type: models.RelLeadsTo, Confidence: 0.8},
		{Source: "H-1B", Target: "Green Card", Type: models.RelLeadsTo, Confidence: 0.8},
		{Source: "F-1", Target: "H-1B", Type: models.RelLeadsTo, Confidence: 0.6},
	})

	assert.Equal(t, [][]string{
		{"F-1", "OPT", "H-1B", "Green Card"},
		{"F-1", "H-1B", "Green Card"},
	}, g.ProcessFlow("F-1", 3))

	assert.Equal(t, [][]string{
		{"F-1", "OPT", "H-1B"},
		{"F-1", "H-1B", "Green Card"},
	}, g.ProcessFlow("F-1", 2))

	assert.Nil(t, g.ProcessFlow("Green Card", 3))
	assert.Nil(t, g.ProcessFlow("F-1", 0))
}

func TestProcessFlow_CycleTerminates(t *testing.T) {
	g := NewGraph([]models.Relationship{
		{Source: "A", Target: "B", Type: models.RelLeadsTo, Confidence: 0.8},
		{Source: "B", Target: "A", Type: models.RelLeadsTo, Confidence: 0.8},
		{Source: "B", Target: "C", Type: models.RelLeadsTo, Confidence: 0.8},
	})
	assert.Equal(t, [][]string{{"A", "B", "C"}}, g.ProcessFlow("A", 10))
}

func TestValidateCombination_ConflictEitherDirection(t *testing.T) {
	g := NewGraph([]models.Relationship{
		{Source: "I-131", Target: "I-600", Type: models.RelConflictsWith, Confidence: 0.9, Context: "cannot be combined"},
	})

	for _, input := range [][]string{{"I-131", "I-600"}, {"I-600", "I-131"}} {
		v := g.ValidateCombination(input, "")
		assert.False(t, v.Valid)
		require.Len(t, v.Conflicts, 1)
		assert.Equal(t, "cannot be combined", v.Conflicts[0].Reason)
	}

	v := g.ValidateCombination([]string{"I-131"}, "")
	assert.True(t, v.Valid)
	assert.Empty(t, v.Conflicts)
}

func TestValidateCombination_MissingPrerequisites(t *testing.T) {
	g := chain()

	v := g.ValidateCombination([]string{"I-485"}, "")
	assert.False(t, v.Valid)
	require.Len(t, v.MissingPrerequisites, 2)
	assert.Equal(t, "I-485", v.MissingPrerequisites[0].Entity)
	assert.Equal(t, "I-130", v.MissingPrerequisites[0].Requires)
	assert.Equal(t, "I-864", v.MissingPrerequisites[1].Requires)

	v = g.ValidateCombination([]string{"I-485", "I-130", "I-864"}, "")
	assert.True(t, v.Valid)
}

func TestValidateCombination_CountryScope(t *testing.T) {
	g := NewGraph([]models.Relationship{
		{Source: "Express Entry", Target: "I-130", Type: models.RelConflictsWith, Confidence: 0.9, Countries: []string{"Canada"}},
	})

	assert.False(t, g.ValidateCombination([]string{"Express Entry", "I-130"}, "Canada").Valid)
	assert.True(t, g.ValidateCombination([]string{"Express Entry", "I-130"}, "United States").Valid)
	assert.False(t, g.ValidateCombination([]string{"Express Entry", "I-130"}, "").Valid)
}

func TestValidateCombination_Warnings(t *testing.T) {
	g := NewGraph([]models.Relationship{
		{Source: "A", Target: "B", Type: models.RelRequires, Confidence: 0.9},
		{Source: "B", Target: "A", Type: models.RelRequires, Confidence: 0.9},
	})
	v := g.ValidateCombination([]string{"A", "B", "Z"}, "")
	assert.True(t, v.Valid)
	assert.Contains(t, v.Warnings, "No relationship information found for Z")
	assert.Contains(t, v.Warnings, "Circular prerequisite chain: A -> B -> A")
}
