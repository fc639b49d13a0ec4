// Package expander rewrites a search query into a small set of related
// queries using fixed dictionaries: domain synonyms, abbreviations and
// intent rules. Output is deterministic for a given input.
package expander

import (
	"regexp"
	"strings"
	"unicode"
)

// DefaultMaxQueries bounds the fan-out of one search
const DefaultMaxQueries = 5

// Intent is a coarse query category
type Intent string

const (
	IntentTutorial        Intent = "tutorial"
	IntentTroubleshooting Intent = "troubleshooting"
	IntentPerformance     Intent = "performance"
	IntentAggregation     Intent = "aggregation"
	IntentDriver          Intent = "driver"
)

var defaultSynonyms = map[string][]string{
	"index":       {"indexes", "indexing"},
	"query":       {"find", "search"},
	"aggregate":   {"aggregation", "pipeline"},
	"connect":     {"connection", "connection string"},
	"error":       {"exception", "failure"},
	"delete":      {"remove", "drop"},
	"update":      {"modify", "upsert"},
	"insert":      {"create", "add"},
	"schema":      {"data model", "validation"},
	"replica":     {"replica set", "replication"},
	"shard":       {"sharding", "sharded cluster"},
	"transaction": {"transactions", "acid"},
	"auth":        {"authentication", "authorization"},
	"performance": {"optimization", "tuning"},
}

var defaultAbbreviations = map[string]string{
	"crud":  "create read update delete",
	"ttl":   "time to live",
	"rbac":  "role based access control",
	"tls":   "transport layer security",
	"csfle": "client side field level encryption",
	"oid":   "objectid",
	"db":    "database",
	"js":    "javascript",
	"ts":    "typescript",
	"py":    "python",
}

type intentRule struct {
	intent  Intent
	pattern *regexp.Regexp
	suffix  string
}

// Rules are evaluated in order; a query may match several.
var intentRules = []intentRule{
	{IntentTutorial, regexp.MustCompile(`(?i)\b(how (to|do|can)|tutorial|guide|getting started|step by step|example)\b`), "tutorial"},
	{IntentTroubleshooting, regexp.MustCompile(`(?i)\b(error|errors|exception|fail(s|ed|ing|ure)?|fix|issue|problem|not working|timeout|crash)\b`), "troubleshooting"},
	{IntentPerformance, regexp.MustCompile(`(?i)\b(slow|performance|optimi[sz]e|faster|speed|latency|throughput)\b`), "performance optimization"},
	{IntentAggregation, regexp.MustCompile(`(?i)(\$(match|group|lookup|project|unwind|sort)\b|\baggregat(e|ion)\b|\bpipeline\b)`), "aggregation pipeline"},
	{IntentDriver, regexp.MustCompile(`(?i)\b(python|pymongo|java|node(\.?js)?|golang|go driver|rust|csharp|driver)\b`), "driver"},
}

// Option configures an Expander
type Option func(*Expander)

// WithMaxQueries caps the number of queries Expand returns
func WithMaxQueries(n int) Option {
	return func(e *Expander) {
		if n > 0 {
			e.maxQueries = n
		}
	}
}

// WithSynonyms adds or replaces synonym entries
func WithSynonyms(extra map[string][]string) Option {
	return func(e *Expander) {
		for k, v := range extra {
			e.synonyms[strings.ToLower(k)] = v
		}
	}
}

// WithAbbreviations adds or replaces abbreviation entries
func WithAbbreviations(extra map[string]string) Option {
	return func(e *Expander) {
		for k, v := range extra {
			e.abbreviations[strings.ToLower(k)] = v
		}
	}
}

// Expander generates query variants
type Expander struct {
	synonyms      map[string][]string
	abbreviations map[string]string
	maxQueries    int
}

// New creates an Expander with the built-in dictionaries
func New(opts ...Option) *Expander {
	e := &Expander{
		synonyms:      make(map[string][]string, len(defaultSynonyms)),
		abbreviations: make(map[string]string, len(defaultAbbreviations)),
		maxQueries:    DefaultMaxQueries,
	}
	for k, v := range defaultSynonyms {
		e.synonyms[k] = v
	}
	for k, v := range defaultAbbreviations {
		e.abbreviations[k] = v
	}
	for _, opt := range opts {
		opt(e)
	}
	return e
}

// MaxQueries reports the expansion cap
func (e *Expander) MaxQueries() int {
	return e.maxQueries
}

// Expand returns the original query followed by its variants: abbreviation
// expansion, one variant per detected intent, then one synonym substitution
// per variant. Intent variants come before synonyms so that a query with many
// dictionary words still carries them under the cap. Duplicates are removed
// case-insensitively.
func (e *Expander) Expand(query string) []string {
	query = strings.TrimSpace(query)
	if query == "" {
		return nil
	}

	out := newQuerySet(e.maxQueries)
	out.add(query)

	tokens := tokenize(query)

	if expanded, ok := e.expandAbbreviations(tokens); ok {
		out.add(expanded)
	}

	lower := strings.ToLower(query)
	for _, rule := range intentRules {
		if !rule.pattern.MatchString(query) {
			continue
		}
		if strings.Contains(lower, rule.suffix) {
			continue
		}
		out.add(query + " " + rule.suffix)
	}

	for i, tok := range tokens {
		for _, syn := range e.synonyms[tok] {
			variant := make([]string, len(tokens))
			copy(variant, tokens)
			variant[i] = syn
			out.add(strings.Join(variant, " "))
		}
	}

	return out.items
}

// DetectIntents lists the intents a query matches, in rule order
func (e *Expander) DetectIntents(query string) []Intent {
	var intents []Intent
	for _, rule := range intentRules {
		if rule.pattern.MatchString(query) {
			intents = append(intents, rule.intent)
		}
	}
	return intents
}

// Suggestions proposes alternative phrasings for a query that matched
// nothing.
func (e *Expander) Suggestions(query string) []string {
	expanded := e.Expand(query)
	if len(expanded) == 0 {
		return nil
	}
	set := newQuerySet(e.maxQueries)
	set.seen[strings.ToLower(expanded[0])] = struct{}{}
	for _, q := range expanded[1:] {
		set.add(q)
	}

	// Long queries often over-constrain the keyword channel.
	tokens := tokenize(query)
	if len(tokens) > 3 {
		set.add(strings.Join(tokens[:3], " "))
	}
	return set.items
}

func (e *Expander) expandAbbreviations(tokens []string) (string, bool) {
	changed := false
	out := make([]string, len(tokens))
	for i, tok := range tokens {
		if full, ok := e.abbreviations[tok]; ok {
			out[i] = full
			changed = true
			continue
		}
		out[i] = tok
	}
	return strings.Join(out, " "), changed
}

// tokenize lowercases and splits on anything that is not a letter, digit,
// '$', '#', '.' or '_'. Trailing dots are trimmed.
func tokenize(s string) []string {
	fields := strings.FieldsFunc(strings.ToLower(s), func(r rune) bool {
		return !unicode.IsLetter(r) && !unicode.IsDigit(r) && r != '$' && r != '#' && r != '.' && r != '_'
	})
	tokens := fields[:0]
	for _, f := range fields {
		f = strings.Trim(f, ".")
		if f != "" {
			tokens = append(tokens, f)
		}
	}
	return tokens
}

type querySet struct {
	items []string
	seen  map[string]struct{}
	limit int
}

func newQuerySet(limit int) *querySet {
	return &querySet{seen: make(map[string]struct{}), limit: limit}
}

func (s *querySet) add(q string) {
	if len(s.items) >= s.limit {
		return
	}
	key := strings.ToLower(strings.Join(strings.Fields(q), " "))
	if key == "" {
		return
	}
	if _, ok := s.seen[key]; ok {
		return
	}
	s.seen[key] = struct{}{}
	s.items = append(s.items, q)
}
