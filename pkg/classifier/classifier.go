// Package classifier decides the lifecycle class, importance score, and
// category of a new memory entry.
//
// Classification is a pure function of the entry's content, its typed
// metadata, and an immutable rule configuration constructed once at engine
// startup. The same inputs always produce the same output.
package classifier

import (
	"strings"

	"github.com/memvault/memvault-go/pkg/store"
)

// EventRule boosts importance (and optionally forces long-term retention)
// for entries with a matching event type.
type EventRule struct {
	// Importance is the score assigned to matching entries.
	Importance float64 `yaml:"importance" json:"importance"`

	// LongTerm forces long-term retention for matching entries.
	LongTerm bool `yaml:"long_term" json:"long_term"`
}

// AgentRule overrides classification for entries written by a given agent.
type AgentRule struct {
	// MemoryType, when set, forces the lifecycle class.
	MemoryType store.MemoryType `yaml:"memory_type" json:"memory_type"`

	// ImportanceMultiplier scales the computed importance score.
	// Zero means no scaling. The product may exceed 1; readers clamp.
	ImportanceMultiplier float64 `yaml:"importance_multiplier" json:"importance_multiplier"`
}

// Config is the immutable classification rule table.
type Config struct {
	// DefaultLongTerm makes unclassified entries long-term instead of
	// short-term.
	DefaultLongTerm bool `yaml:"default_long_term" json:"default_long_term"`

	// DefaultImportance is the score for entries no rule matches.
	// Defaults to 0.5.
	DefaultImportance float64 `yaml:"default_importance" json:"default_importance"`

	// EventRules maps event types to importance boosts.
	EventRules map[string]EventRule `yaml:"event_rules" json:"event_rules"`

	// AgentRules maps agent ids to per-agent overrides.
	AgentRules map[string]AgentRule `yaml:"agent_rules" json:"agent_rules"`
}

// Input is the typed classification input. Well-known fields are explicit;
// arbitrary caller data travels in Extra and does not influence
// classification.
type Input struct {
	// Namespace is the entry's namespace.
	Namespace string

	// EventType names the orchestration event that produced the entry,
	// if any. Looked up in Config.EventRules.
	EventType string

	// AgentID identifies the writing agent. Looked up in Config.AgentRules.
	AgentID string

	// IsLog marks the entry as an orchestration/event log.
	IsLog bool

	// MemoryType, when set, overrides the computed lifecycle class.
	// Highest precedence.
	MemoryType store.MemoryType

	// Importance, when non-nil, overrides the computed importance score.
	// Highest precedence.
	Importance *float64

	// Extra is the open extension map persisted with the entry.
	Extra map[string]string
}

// Result is a fully determined classification.
type Result struct {
	MemoryType store.MemoryType
	Category   store.Category
	Importance float64
}

// Classifier maps entries to (memory_type, importance, category) using an
// immutable rule table.
type Classifier struct {
	cfg Config
}

// New creates a classifier. The config is copied; later mutation of the
// caller's maps has no effect.
func New(cfg Config) *Classifier {
	if cfg.DefaultImportance == 0 {
		cfg.DefaultImportance = 0.5
	}

	eventRules := make(map[string]EventRule, len(cfg.EventRules))
	for k, v := range cfg.EventRules {
		eventRules[strings.ToLower(k)] = v
	}
	cfg.EventRules = eventRules

	agentRules := make(map[string]AgentRule, len(cfg.AgentRules))
	for k, v := range cfg.AgentRules {
		agentRules[k] = v
	}
	cfg.AgentRules = agentRules

	return &Classifier{cfg: cfg}
}

// Classify determines the lifecycle class, importance, and category for an
// entry. Rule precedence, highest first:
//
//  1. explicit per-call override (Input.MemoryType / Input.Importance)
//  2. per-agent configuration override
//  3. event-type importance rule
//  4. DefaultLongTerm flag
//  5. global default (short_term, importance 0.5)
//
// Category is log when Input.IsLog is set, stored otherwise.
func (c *Classifier) Classify(content string, in Input) Result {
	res := Result{
		MemoryType: store.ShortTerm,
		Category:   store.CategoryStored,
		Importance: c.cfg.DefaultImportance,
	}

	if in.IsLog {
		res.Category = store.CategoryLog
	}
	if c.cfg.DefaultLongTerm {
		res.MemoryType = store.LongTerm
	}

	if in.EventType != "" {
		if rule, ok := c.cfg.EventRules[strings.ToLower(in.EventType)]; ok {
			res.Importance = rule.Importance
			if rule.LongTerm {
				res.MemoryType = store.LongTerm
			}
		}
	}

	if in.AgentID != "" {
		if rule, ok := c.cfg.AgentRules[in.AgentID]; ok {
			if rule.MemoryType != "" {
				res.MemoryType = rule.MemoryType
			}
			if rule.ImportanceMultiplier > 0 {
				res.Importance *= rule.ImportanceMultiplier
			}
		}
	}

	if in.MemoryType != "" {
		res.MemoryType = in.MemoryType
	}
	if in.Importance != nil {
		res.Importance = *in.Importance
	}

	if res.Importance < 0 {
		res.Importance = 0
	}

	return res
}
