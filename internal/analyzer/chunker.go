package analyzer

import (
	"regexp"
	"strings"
)

// boundaryPatterns mark top-level declaration starts per language.
// Splitting on declaration boundaries keeps a function or class
// together in one chunk whenever it fits.
var boundaryPatterns = map[string]*regexp.Regexp{
	"go":         regexp.MustCompile(`(?m)^(?:func|type)\s`),
	"python":     regexp.MustCompile(`(?m)^(?:def|class|async def)\s`),
	"javascript": regexp.MustCompile(`(?m)^(?:export\s+)?(?:async\s+)?(?:function|class|const|let)\s`),
	"typescript": regexp.MustCompile(`(?m)^(?:export\s+)?(?:async\s+)?(?:function|class|interface|const|let)\s`),
	"shell":      regexp.MustCompile(`(?m)^(?:function\s+\w+|\w+\s*\(\))`),
	"markdown":   regexp.MustCompile(`(?m)^#{1,6}\s`),
}

// Chunker splits file content into bounded text chunks.
type Chunker struct {
	// MaxSize bounds chunk length in bytes.
	MaxSize int
}

// NewChunker creates a Chunker with the given size bound.
func NewChunker(maxSize int) *Chunker {
	if maxSize <= 0 {
		maxSize = 1200
	}
	return &Chunker{MaxSize: maxSize}
}

// Split divides content into chunks of at most MaxSize bytes, cutting
// at declaration boundaries when the language has them and falling
// back to paragraph and then rune boundaries.
func (c *Chunker) Split(content, language string) []string {
	if content == "" {
		return nil
	}
	if len(content) <= c.MaxSize {
		return []string{content}
	}

	var segments []string
	if pattern, ok := boundaryPatterns[language]; ok {
		segments = splitAt(content, pattern)
	} else {
		segments = splitParagraphs(content)
	}

	return c.pack(segments)
}

// Complexity estimates structural complexity as the number of
// declaration boundaries in the content. Languages without a boundary
// pattern score zero.
func Complexity(content, language string) int {
	pattern, ok := boundaryPatterns[language]
	if !ok {
		return 0
	}
	return len(pattern.FindAllStringIndex(content, -1))
}

// splitAt splits content at each match of pattern, keeping the match
// with the segment it starts.
func splitAt(content string, pattern *regexp.Regexp) []string {
	locs := pattern.FindAllStringIndex(content, -1)
	if len(locs) == 0 {
		return splitParagraphs(content)
	}

	var segments []string
	prev := 0
	for _, loc := range locs {
		if loc[0] > prev {
			segments = append(segments, content[prev:loc[0]])
		}
		prev = loc[0]
	}
	segments = append(segments, content[prev:])
	return segments
}

// splitParagraphs splits on blank lines.
func splitParagraphs(content string) []string {
	parts := strings.Split(content, "\n\n")
	segments := make([]string, 0, len(parts))
	for i, p := range parts {
		if i < len(parts)-1 {
			p += "\n\n"
		}
		if p != "" {
			segments = append(segments, p)
		}
	}
	return segments
}

// pack greedily merges adjacent segments up to MaxSize and hard-splits
// any single segment that exceeds it.
func (c *Chunker) pack(segments []string) []string {
	var chunks []string
	var current strings.Builder

	flush := func() {
		if current.Len() > 0 {
			chunks = append(chunks, current.String())
			current.Reset()
		}
	}

	for _, seg := range segments {
		if len(seg) > c.MaxSize {
			flush()
			chunks = append(chunks, c.hardSplit(seg)...)
			continue
		}
		if current.Len()+len(seg) > c.MaxSize {
			flush()
		}
		current.WriteString(seg)
	}
	flush()

	return chunks
}

// hardSplit cuts a segment into MaxSize pieces on rune boundaries.
func (c *Chunker) hardSplit(seg string) []string {
	var chunks []string
	runes := []rune(seg)

	var current strings.Builder
	for _, r := range runes {
		if current.Len()+len(string(r)) > c.MaxSize {
			chunks = append(chunks, current.String())
			current.Reset()
		}
		current.WriteRune(r)
	}
	if current.Len() > 0 {
		chunks = append(chunks, current.String())
	}
	return chunks
}
