package chunker

import (
	"regexp"
	"strings"

	"github.com/dshills/docsearch-mcp/pkg/types"
)

var methodCall = regexp.MustCompile(`\b[A-Za-z_$][\w$]*\.[A-Za-z_$][\w$]*\(`)

// pathSignals maps path and title words to a classification
var pathSignals = []struct {
	contentType types.ContentType
	words       []string
}{
	{types.ContentExample, []string{"example", "examples", "sample", "samples", "cookbook", "recipes", "snippets", "code-examples"}},
	{types.ContentTechnical, []string{"reference", "api", "commands", "command", "operator", "operators", "method", "methods", "syntax", "parameters"}},
	{types.ContentConceptual, []string{"tutorial", "tutorials", "guide", "guides", "getting-started", "concepts", "core", "introduction", "overview", "fundamentals"}},
	{types.ContentMeta, []string{"release-notes", "changelog", "contributing", "license", "legal", "about", "faq", "support", "community", "upgrade", "meta"}},
}

// classification precedence when scores tie
var classOrder = []types.ContentType{
	types.ContentTechnical,
	types.ContentExample,
	types.ContentConceptual,
	types.ContentMeta,
}

var baseQuality = map[types.ContentType]float64{
	types.ContentTechnical:  1.2,
	types.ContentExample:    1.1,
	types.ContentConceptual: 1.0,
	types.ContentMeta:       0.6,
}

// Classify scores a document from its path, title and content and returns
// its content type with a quality multiplier in [0.1, 2.0].
func Classify(doc *types.Document) (types.ContentType, float64) {
	scores := make(map[types.ContentType]int, len(classOrder))

	words := pathWords(doc.Metadata.SourcePath + " " + doc.Metadata.URL + " " + doc.Metadata.Title)
	for _, sig := range pathSignals {
		for _, w := range sig.words {
			if _, ok := words[w]; ok {
				scores[sig.contentType] += 2
			}
		}
	}

	content := doc.Content
	fences := strings.Count(content, "```") / 2
	calls := len(methodCall.FindAllStringIndex(content, -1))
	density := 0.0
	if len(content) > 0 {
		density = float64(calls) * 1000 / float64(len(content))
	}

	switch {
	case density > 2:
		scores[types.ContentTechnical] += 2
	case density > 0.5:
		scores[types.ContentTechnical]++
	}
	if fences >= 3 {
		scores[types.ContentExample] += 2
	} else if fences > 0 {
		scores[types.ContentTechnical]++
	}
	if fences == 0 && calls == 0 {
		if len(content) > 2000 {
			scores[types.ContentConceptual]++
		} else if len(content) < 300 {
			scores[types.ContentMeta]++
		}
	}

	best := types.ContentConceptual
	bestScore := 0
	for _, ct := range classOrder {
		if scores[ct] > bestScore {
			best, bestScore = ct, scores[ct]
		}
	}

	quality := baseQuality[best]
	if len(content) < 200 {
		quality -= 0.2
	}
	if fences > 0 && best != types.ContentMeta {
		quality += 0.1
	}
	if quality < 0.1 {
		quality = 0.1
	}
	if quality > 2.0 {
		quality = 2.0
	}
	return best, quality
}

// pathWords lowercases s and splits it on separators, keeping hyphenated words whole
func pathWords(s string) map[string]struct{} {
	s = strings.ToLower(s)
	fields := strings.FieldsFunc(s, func(r rune) bool {
		return !(r == '-' || r >= 'a' && r <= 'z' || r >= '0' && r <= '9')
	})
	out := make(map[string]struct{}, len(fields)*2)
	for _, f := range fields {
		out[f] = struct{}{}
		for _, part := range strings.Split(f, "-") {
			if part != "" {
				out[part] = struct{}{}
			}
		}
	}
	return out
}
