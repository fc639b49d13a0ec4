package chunker

import (
	"fmt"
	"regexp"
	"strings"
	"unicode"
	"unicode/utf8"
)

const heuristicHeaderLevel = 2

var (
	mdHeader  = regexp.MustCompile(`^(#{1,6})\s+(.+?)\s*#*\s*$`)
	fenceLine = regexp.MustCompile("^\\s*(```|~~~)")
	listItem  = regexp.MustCompile(`^\s*([-*+]|\d+[.)])\s+`)
)

// section is a header and the lines up to the next header
type section struct {
	title     string
	level     int
	hasHeader bool
	lines     []string
}

// parseSections splits text at markdown and heuristic headers.
// Lines inside code fences never start a section.
func parseSections(text, docTitle string) ([]section, error) {
	lines := strings.Split(text, "\n")
	cur := section{title: docTitle}
	var out []section
	push := func() {
		if strings.TrimSpace(strings.Join(cur.lines, "\n")) != "" {
			out = append(out, cur)
		}
	}

	fence := ""
	fenceStart := 0
	for i, line := range lines {
		if m := fenceLine.FindStringSubmatch(line); m != nil {
			switch {
			case fence == "":
				fence = m[1]
				fenceStart = i + 1
			case m[1] == fence:
				fence = ""
			}
			cur.lines = append(cur.lines, line)
			continue
		}

		if fence == "" {
			if m := mdHeader.FindStringSubmatch(line); m != nil {
				push()
				cur = section{title: m[2], level: len(m[1]), hasHeader: true, lines: []string{line}}
				continue
			}
			if isHeuristicHeader(lines, i) {
				push()
				cur = section{title: strings.TrimSpace(line), level: heuristicHeaderLevel, hasHeader: true, lines: []string{line}}
				continue
			}
		}
		cur.lines = append(cur.lines, line)
	}

	if fence != "" {
		return nil, fmt.Errorf("%w opened at line %d", ErrUnterminatedFence, fenceStart)
	}
	push()
	return out, nil
}

// isHeuristicHeader detects plain-text headers: a short capitalised line
// without markup or closing punctuation, preceded by a blank line and
// followed by text that does not continue it.
func isHeuristicHeader(lines []string, i int) bool {
	line := strings.TrimSpace(lines[i])
	if len(line) < 3 || len(line) > 60 {
		return false
	}
	if i > 0 && strings.TrimSpace(lines[i-1]) != "" {
		return false
	}
	if i+1 >= len(lines) {
		return false
	}
	next := strings.TrimSpace(lines[i+1])
	if next == "" {
		return false
	}
	if r, _ := utf8.DecodeRuneInString(next); unicode.IsLower(r) {
		return false
	}

	if len(strings.Fields(line)) > 8 {
		return false
	}
	if listItem.MatchString(line) {
		return false
	}
	first, _ := utf8.DecodeRuneInString(line)
	if !unicode.IsUpper(first) {
		return false
	}
	last, _ := utf8.DecodeLastRuneInString(line)
	if strings.ContainsRune(".,;:!?", last) {
		return false
	}
	if strings.ContainsAny(line, "`*_[]()<>{}|=#/\\\"") {
		return false
	}
	return true
}

// leadingTitle returns the first markdown header of text, or fallback
func leadingTitle(text, fallback string) (string, int) {
	first, _, _ := strings.Cut(text, "\n")
	if m := mdHeader.FindStringSubmatch(first); m != nil {
		return m[2], len(m[1])
	}
	return fallback, 0
}

func hasFence(text string) bool {
	return strings.Contains(text, "```") || strings.Contains(text, "~~~")
}

// block is a run of prose or a complete fenced code block
type block struct {
	text string
	code bool
}

// splitBlocks separates a section into paragraphs and code blocks.
// Without preserveCode, fenced code is treated as ordinary prose.
func splitBlocks(s section, preserveCode bool) []block {
	lines := s.lines
	var out []block
	if s.hasHeader && len(lines) > 0 {
		out = append(out, block{text: strings.TrimSpace(lines[0])})
		lines = lines[1:]
	}

	var prose, code []string
	fence := ""
	flushProse := func() {
		if t := strings.TrimSpace(strings.Join(prose, "\n")); t != "" {
			out = append(out, block{text: t})
		}
		prose = prose[:0]
	}

	for _, line := range lines {
		m := fenceLine.FindStringSubmatch(line)
		if preserveCode {
			if fence != "" {
				code = append(code, line)
				if m != nil && m[1] == fence {
					out = append(out, block{text: strings.Join(code, "\n"), code: true})
					code, fence = nil, ""
				}
				continue
			}
			if m != nil {
				flushProse()
				fence = m[1]
				code = append(code[:0], line)
				continue
			}
		}
		if strings.TrimSpace(line) == "" && fence == "" {
			flushProse()
			continue
		}
		prose = append(prose, line)
	}
	if len(code) > 0 {
		prose = append(prose, code...)
	}
	flushProse()
	return out
}

// sectionUnits turns an oversized section into units for accumulation
func sectionUnits(s section, opts Options) []unit {
	var units []unit
	for _, b := range splitBlocks(s, opts.PreserveCode) {
		if !b.code {
			units = append(units, proseUnits(b.text, opts.TargetSize)...)
			continue
		}
		if tokenCount(len(b.text)) <= opts.MaxSize {
			units = append(units, unit{text: b.text, code: true, breakBefore: true})
			continue
		}
		for _, part := range splitCode(b.text, opts.MaxSize) {
			units = append(units, unit{text: part, code: true, breakBefore: true})
		}
	}
	return units
}

// splitCode splits an oversized fenced block on line boundaries and re-fences
// every part so each remains a well-formed code block.
func splitCode(code string, maxTokens int) []string {
	lines := strings.Split(code, "\n")
	open, closing := "", ""
	if len(lines) >= 2 && fenceLine.MatchString(lines[0]) && fenceLine.MatchString(lines[len(lines)-1]) {
		open, closing = lines[0], lines[len(lines)-1]
		lines = lines[1 : len(lines)-1]
	}

	budget := charBudget(maxTokens)
	if open != "" {
		budget -= len(open) + len(closing) + 2
	}
	if budget < TokensPerChar {
		budget = TokensPerChar
	}

	parts := splitLines(lines, budget)
	if open == "" {
		return parts
	}
	for i, p := range parts {
		parts[i] = open + "\n" + p + "\n" + closing
	}
	return parts
}

// splitLines groups lines into runs of at most budget bytes.
// A single line over the budget is split by words.
func splitLines(lines []string, budget int) []string {
	var out []string
	var cur strings.Builder
	for _, line := range lines {
		if len(line) > budget {
			if cur.Len() > 0 {
				out = append(out, cur.String())
				cur.Reset()
			}
			out = append(out, splitWordsBudget(line, budget)...)
			continue
		}
		if cur.Len() > 0 && cur.Len()+1+len(line) > budget {
			out = append(out, cur.String())
			cur.Reset()
		}
		if cur.Len() > 0 {
			cur.WriteByte('\n')
		}
		cur.WriteString(line)
	}
	if cur.Len() > 0 {
		out = append(out, cur.String())
	}
	return out
}

// splitBalanced cuts text on line boundaries into the fewest parts of similar
// size that fit maxTokens. A code fence open at a cut is closed at the end of
// one part and reopened at the start of the next.
func splitBalanced(text string, maxTokens int) []string {
	budget := charBudget(maxTokens)
	if len(text) <= budget {
		return []string{text}
	}
	lines := strings.Split(text, "\n")
	for k := 2; k <= len(lines); k++ {
		if parts, ok := cutLines(lines, k, budget); ok {
			return parts
		}
	}
	return splitLines(lines, budget)
}

// cutLines cuts lines into k runs at the line starts nearest to even byte
// offsets. It reports false when a run, fences included, exceeds budget.
func cutLines(lines []string, k, budget int) ([]string, bool) {
	offsets := make([]int, len(lines))
	total := 0
	for i, l := range lines {
		offsets[i] = total
		total += len(l) + 1
	}

	// open[i] is the fence opening line in effect before lines[i]
	open := make([]string, len(lines)+1)
	opening, marker := "", ""
	for i, line := range lines {
		open[i] = opening
		m := fenceLine.FindStringSubmatch(line)
		switch {
		case m == nil:
		case marker == "":
			opening, marker = line, m[1]
		case m[1] == marker:
			opening, marker = "", ""
		}
	}
	open[len(lines)] = opening

	parts := make([]string, 0, k)
	start := 0
	for p := 1; p <= k; p++ {
		end := len(lines)
		if p < k {
			want := total * p / k
			end = start + 1
			for end < len(lines)-(k-p) && offsets[end] < want {
				end++
			}
			// Do not end a run on the line that opens a fence
			if end-1 > start && open[end-1] == "" && open[end] != "" {
				end--
			}
		}

		var run []string
		if open[start] != "" {
			run = append(run, open[start])
		}
		run = append(run, lines[start:end]...)
		if end < len(lines) && open[end] != "" {
			run = append(run, fenceLine.FindStringSubmatch(open[end])[1])
		}

		part := strings.Join(run, "\n")
		if len(part) > budget {
			return nil, false
		}
		if strings.TrimSpace(part) != "" {
			parts = append(parts, part)
		}
		start = end
	}
	return parts, true
}
