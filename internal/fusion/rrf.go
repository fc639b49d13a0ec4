package fusion

import (
	"sort"

	"github.com/dshills/docsearch-mcp/pkg/types"
)

// Fusion defaults
const (
	DefaultK         = 60
	DefaultBothBoost = 1.2
	DefaultWeight    = 0.5
)

// Candidate is one entry of a ranked channel list. Its position in the list is its rank.
type Candidate struct {
	ID       string
	Score    float64 // Raw channel score, informational only
	Category string  // Optional key into Config.CategoryBoost
}

// List is a ranked list produced by one channel
type List struct {
	Channel types.Provenance
	Weight  float64
	Items   []Candidate
}

// Weights are the per-channel RRF weights
type Weights struct {
	Vector  float64
	Keyword float64
}

// Config holds the tunable fusion constants
type Config struct {
	K             int
	Weights       Weights
	BothBoost     float64
	CategoryBoost map[string]float64
}

// DefaultConfig returns k=60, equal weights and a 1.2 consensus boost
func DefaultConfig() Config {
	return Config{
		K:         DefaultK,
		Weights:   Weights{Vector: DefaultWeight, Keyword: DefaultWeight},
		BothBoost: DefaultBothBoost,
	}
}

func (c Config) withDefaults() Config {
	if c.K <= 0 {
		c.K = DefaultK
	}
	if c.BothBoost <= 0 {
		c.BothBoost = 1
	}
	return c
}

// Fused is a candidate with its combined score
type Fused struct {
	ID           string
	Score        float64
	Provenance   types.Provenance
	VectorRank   int // Best 1-based rank across vector lists, 0 if absent
	KeywordRank  int // Best 1-based rank across text lists, 0 if absent
	VectorScore  float64
	KeywordScore float64
	Category     string
}

// InBoth reports whether both channels found the candidate
func (f Fused) InBoth() bool {
	return f.Provenance == types.ProvenanceBoth
}

// Fuse merges a vector-ranked and a keyword-ranked list with RRF
func Fuse(vector, keyword []Candidate, cfg Config) []Fused {
	return FuseLists([]List{
		{Channel: types.ProvenanceVector, Weight: cfg.Weights.Vector, Items: vector},
		{Channel: types.ProvenanceText, Weight: cfg.Weights.Keyword, Items: keyword},
	}, cfg)
}

// FuseLists merges any number of ranked lists with RRF. Scores for the same
// ID are summed across lists; output order is by score with first-seen order
// breaking ties.
func FuseLists(lists []List, cfg Config) []Fused {
	cfg = cfg.withDefaults()

	index := make(map[string]int)
	var out []Fused

	for _, list := range lists {
		seen := make(map[string]struct{}, len(list.Items))
		for pos, c := range list.Items {
			if _, dup := seen[c.ID]; dup {
				continue
			}
			seen[c.ID] = struct{}{}
			rank := pos + 1

			i, ok := index[c.ID]
			if !ok {
				i = len(out)
				index[c.ID] = i
				out = append(out, Fused{ID: c.ID})
			}
			f := &out[i]
			f.Score += list.Weight / float64(cfg.K+rank)
			f.Provenance = f.Provenance.Merge(list.Channel)
			if f.Category == "" {
				f.Category = c.Category
			}

			switch list.Channel {
			case types.ProvenanceVector:
				if f.VectorRank == 0 || rank < f.VectorRank {
					f.VectorRank = rank
					f.VectorScore = c.Score
				}
			case types.ProvenanceText:
				if f.KeywordRank == 0 || rank < f.KeywordRank {
					f.KeywordRank = rank
					f.KeywordScore = c.Score
				}
			}
		}
	}

	for i := range out {
		if out[i].InBoth() {
			out[i].Score *= cfg.BothBoost
		}
		if boost, ok := cfg.CategoryBoost[out[i].Category]; ok && out[i].Category != "" {
			out[i].Score *= boost
		}
	}

	sort.SliceStable(out, func(i, j int) bool {
		return out[i].Score > out[j].Score
	})
	return out
}
