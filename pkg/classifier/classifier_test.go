package classifier_test

import (
	"testing"

	"github.com/stretchr/testify/assert"

	"github.com/memvault/memvault-go/pkg/classifier"
	"github.com/memvault/memvault-go/pkg/store"
)

func TestClassifyDefaults(t *testing.T) {
	c := classifier.New(classifier.Config{})

	res := c.Classify("some content", classifier.Input{Namespace: "n1"})

	assert.Equal(t, store.ShortTerm, res.MemoryType)
	assert.Equal(t, store.CategoryStored, res.Category)
	assert.Equal(t, 0.5, res.Importance)
}

func TestClassifyDefaultLongTerm(t *testing.T) {
	c := classifier.New(classifier.Config{DefaultLongTerm: true})

	res := c.Classify("content", classifier.Input{})

	assert.Equal(t, store.LongTerm, res.MemoryType)
}

func TestClassifyEventRule(t *testing.T) {
	c := classifier.New(classifier.Config{
		EventRules: map[string]classifier.EventRule{
			"task_completed": {Importance: 0.8, LongTerm: true},
			"heartbeat":      {Importance: 0.1},
		},
	})

	res := c.Classify("content", classifier.Input{EventType: "task_completed"})
	assert.Equal(t, store.LongTerm, res.MemoryType)
	assert.Equal(t, 0.8, res.Importance)

	// Event types match case-insensitively.
	res = c.Classify("content", classifier.Input{EventType: "HEARTBEAT"})
	assert.Equal(t, store.ShortTerm, res.MemoryType)
	assert.Equal(t, 0.1, res.Importance)

	// Unknown events fall back to the default.
	res = c.Classify("content", classifier.Input{EventType: "unknown"})
	assert.Equal(t, 0.5, res.Importance)
}

func TestClassifyAgentRuleOverridesEventRule(t *testing.T) {
	c := classifier.New(classifier.Config{
		EventRules: map[string]classifier.EventRule{
			"task_completed": {Importance: 0.6},
		},
		AgentRules: map[string]classifier.AgentRule{
			"archivist": {MemoryType: store.LongTerm, ImportanceMultiplier: 2.0},
		},
	})

	res := c.Classify("content", classifier.Input{
		EventType: "task_completed",
		AgentID:   "archivist",
	})

	assert.Equal(t, store.LongTerm, res.MemoryType)
	// Agent multiplier scales the event-rule importance; the product may
	// exceed 1, readers clamp.
	assert.InDelta(t, 1.2, res.Importance, 1e-9)
}

func TestClassifyExplicitOverrideWins(t *testing.T) {
	importance := 0.05
	c := classifier.New(classifier.Config{
		EventRules: map[string]classifier.EventRule{
			"task_completed": {Importance: 0.9, LongTerm: true},
		},
		AgentRules: map[string]classifier.AgentRule{
			"archivist": {MemoryType: store.LongTerm, ImportanceMultiplier: 3},
		},
	})

	res := c.Classify("content", classifier.Input{
		EventType:  "task_completed",
		AgentID:    "archivist",
		MemoryType: store.ShortTerm,
		Importance: &importance,
	})

	assert.Equal(t, store.ShortTerm, res.MemoryType)
	assert.Equal(t, importance, res.Importance)
}

func TestClassifyLogCategory(t *testing.T) {
	c := classifier.New(classifier.Config{})

	res := c.Classify("step finished", classifier.Input{IsLog: true})
	assert.Equal(t, store.CategoryLog, res.Category)

	res = c.Classify("step finished", classifier.Input{})
	assert.Equal(t, store.CategoryStored, res.Category)
}

func TestClassifyNegativeImportanceClamped(t *testing.T) {
	importance := -2.5
	c := classifier.New(classifier.Config{})

	res := c.Classify("content", classifier.Input{Importance: &importance})

	assert.Equal(t, 0.0, res.Importance)
}

func TestClassifyDeterministic(t *testing.T) {
	c := classifier.New(classifier.Config{
		EventRules: map[string]classifier.EventRule{"e": {Importance: 0.7}},
	})
	in := classifier.Input{EventType: "e", AgentID: "a"}

	first := c.Classify("content", in)
	for i := 0; i < 10; i++ {
		assert.Equal(t, first, c.Classify("content", in))
	}
}

func TestConfigCopiedAtConstruction(t *testing.T) {
	rules := map[string]classifier.EventRule{"e": {Importance: 0.9}}
	c := classifier.New(classifier.Config{EventRules: rules})

	// Mutating the caller's map after construction has no effect.
	rules["e"] = classifier.EventRule{Importance: 0.1}

	res := c.Classify("content", classifier.Input{EventType: "e"})
	assert.Equal(t, 0.9, res.Importance)
}
