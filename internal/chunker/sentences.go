package chunker

import (
	"regexp"
	"strings"
	"unicode"
	"unicode/utf8"
)

var (
	sentenceEnd = regexp.MustCompile(`[.!?]+["'’”)\]]*\s+`)
	blankLines  = regexp.MustCompile(`\n[ \t]*\n`)
)

// splitSentences segments text at sentence punctuation followed by whitespace
// and something that can start a sentence.
func splitSentences(text string) []string {
	text = strings.TrimSpace(text)
	if text == "" {
		return nil
	}

	var out []string
	start := 0
	for _, m := range sentenceEnd.FindAllStringIndex(text, -1) {
		if m[1] >= len(text) {
			break
		}
		if !startsSentence(text[m[1]:]) {
			continue
		}
		if s := strings.TrimSpace(text[start:m[1]]); s != "" {
			out = append(out, s)
		}
		start = m[1]
	}
	if rest := strings.TrimSpace(text[start:]); rest != "" {
		out = append(out, rest)
	}
	return out
}

func startsSentence(s string) bool {
	r, _ := utf8.DecodeRuneInString(s)
	if unicode.IsUpper(r) || unicode.IsDigit(r) {
		return true
	}
	return strings.ContainsRune("\"'“‘([`#-*>", r)
}

// paragraphs splits text at blank lines
func paragraphs(text string) []string {
	var out []string
	for _, p := range blankLines.Split(text, -1) {
		if p = strings.TrimSpace(p); p != "" {
			out = append(out, p)
		}
	}
	return out
}

// listBlocks splits a paragraph so each list item starts its own block
func listBlocks(para string) []string {
	lines := strings.Split(para, "\n")
	var out []string
	var cur []string
	for _, line := range lines {
		if listItem.MatchString(line) && len(cur) > 0 {
			out = append(out, strings.Join(cur, "\n"))
			cur = nil
		}
		cur = append(cur, line)
	}
	if len(cur) > 0 {
		out = append(out, strings.Join(cur, "\n"))
	}
	return out
}

// countSentences counts sentences across all paragraphs of text
func countSentences(text string) int {
	n := 0
	for _, para := range paragraphs(text) {
		for _, b := range listBlocks(para) {
			n += len(splitSentences(b))
		}
	}
	return n
}

// proseUnits segments a paragraph into sentence units no larger than maxTokens
func proseUnits(para string, maxTokens int) []unit {
	var units []unit
	first := true
	for _, b := range listBlocks(para) {
		for _, s := range splitSentences(b) {
			parts := []string{s}
			if tokenCount(len(s)) > maxTokens {
				parts = splitWordsBudget(s, charBudget(maxTokens))
			}
			for _, p := range parts {
				units = append(units, unit{text: p, breakBefore: first})
				first = false
			}
		}
	}
	return units
}

// splitWordsBudget splits text on whitespace into runs of at most budget bytes.
// Words longer than the budget are cut on rune boundaries.
func splitWordsBudget(text string, budget int) []string {
	if budget <= 0 {
		budget = 1
	}
	var out []string
	var cur strings.Builder
	for _, w := range strings.Fields(text) {
		for len(w) > budget {
			if cur.Len() > 0 {
				out = append(out, cur.String())
				cur.Reset()
			}
			cut := budget
			for cut > 0 && !utf8.RuneStart(w[cut]) {
				cut--
			}
			if cut == 0 {
				_, size := utf8.DecodeRuneInString(w)
				cut = size
			}
			out = append(out, w[:cut])
			w = w[cut:]
		}
		if w == "" {
			continue
		}
		if cur.Len() > 0 && cur.Len()+1+len(w) > budget {
			out = append(out, cur.String())
			cur.Reset()
		}
		if cur.Len() > 0 {
			cur.WriteByte(' ')
		}
		cur.WriteString(w)
	}
	if cur.Len() > 0 {
		out = append(out, cur.String())
	}
	return out
}
