package search

import (
	"math"
	"strings"

	"github.com/memvault/memvault-go/pkg/store"
)

const msPerHour = 3600000

// tokenize lowercases text and splits it into deduplicated word tokens.
func tokenize(text string) []string {
	fields := strings.FieldsFunc(strings.ToLower(text), func(r rune) bool {
		return !('a' <= r && r <= 'z') && !('0' <= r && r <= '9')
	})

	seen := make(map[string]bool, len(fields))
	tokens := fields[:0]
	for _, f := range fields {
		if seen[f] {
			continue
		}
		seen[f] = true
		tokens = append(tokens, f)
	}
	return tokens
}

// textRelevance scores content against query tokens: per-token occurrence
// counts, capped at 3 so a repeated word cannot dominate, normalized to
// [0, 1] over the query length.
func textRelevance(content string, terms []string) float64 {
	if len(terms) == 0 {
		return 0
	}
	lower := strings.ToLower(content)

	var weight float64
	for _, t := range terms {
		c := strings.Count(lower, t)
		if c > 3 {
			c = 3
		}
		weight += float64(c)
	}
	return weight / float64(3*len(terms))
}

// contextOverlap is the Jaccard similarity between the entry content's token
// set and the token set of the concatenated context texts.
func contextOverlap(content string, contextTexts []string) float64 {
	entryTokens := tokenize(content)
	ctxTokens := tokenize(strings.Join(contextTexts, " "))
	if len(entryTokens) == 0 || len(ctxTokens) == 0 {
		return 0
	}

	entrySet := make(map[string]bool, len(entryTokens))
	for _, t := range entryTokens {
		entrySet[t] = true
	}

	intersection := 0
	for _, t := range ctxTokens {
		if entrySet[t] {
			intersection++
		}
	}

	union := len(entrySet) + len(ctxTokens) - intersection
	return float64(intersection) / float64(union)
}

// importanceMultiplier maps an entry's importance score to a bounded
// multiplicative factor: clamp(0.5 + importance, 0.5, 2.0). Scores above 1
// (agent-level multipliers) are absorbed by the upper clamp.
func importanceMultiplier(importance float64) float64 {
	m := 0.5 + importance
	if m < 0.5 {
		return 0.5
	}
	if m > 2.0 {
		return 2.0
	}
	return m
}

// hybridScore computes the final score of a candidate:
//
//	base  = vector_weight*vector_similarity + text_weight*text_relevance
//	final = min(1.0, base*importance_multiplier + temporal_boost + context_boost)
//
// The importance multiplier may push the base above 1.0 before the additive
// boosts; the clamp is applied once, last.
func hybridScore(rec *store.Record, vectorSim, textRel float64, opts *Options, nowMS int64) float64 {
	base := opts.VectorWeight*vectorSim + opts.TextWeight*textRel
	score := base * importanceMultiplier(rec.ImportanceScore)

	if opts.EnableTemporal && opts.TemporalWeight > 0 {
		ageHours := float64(nowMS-rec.CreatedAt) / msPerHour
		if ageHours < 0 {
			ageHours = 0
		}
		score += opts.TemporalWeight * math.Exp(-ageHours/opts.TemporalDecayHours)
	}

	if opts.EnableContext && opts.ContextWeight > 0 && len(opts.ContextTexts) > 0 {
		score += opts.ContextWeight * contextOverlap(rec.Content, opts.ContextTexts)
	}

	return math.Min(1.0, score)
}
