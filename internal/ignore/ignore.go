// Package ignore provides gitignore-style file parsing for tree analysis.
package ignore

import (
	"bufio"
	"os"
	"path/filepath"
	"strings"

	"github.com/bmatcuk/doublestar/v4"
)

// DefaultIgnoreFiles are the ignore file names consulted at the
// analysis root, in order.
var DefaultIgnoreFiles = []string{".gitignore", ".triagedignore"}

// Parser reads and parses gitignore-style files.
type Parser struct {
	// IgnoreFiles is the list of ignore file names to look for.
	IgnoreFiles []string

	// FallbackPatterns are returned when no ignore files are found.
	FallbackPatterns []string
}

// NewParser creates a new ignore file parser with the given configuration.
func NewParser(ignoreFiles, fallbackPatterns []string) *Parser {
	return &Parser{
		IgnoreFiles:      ignoreFiles,
		FallbackPatterns: fallbackPatterns,
	}
}

// ParseRoot reads all ignore files from the analysis root and returns
// combined exclude patterns. If no ignore files are found, returns
// fallback patterns.
func (p *Parser) ParseRoot(root string) ([]string, error) {
	var patterns []string
	foundAny := false

	for _, ignoreFile := range p.IgnoreFiles {
		path := filepath.Join(root, ignoreFile)
		filePatterns, err := p.parseFile(path)
		if err != nil {
			if os.IsNotExist(err) {
				continue
			}
			return nil, err
		}
		patterns = append(patterns, filePatterns...)
		foundAny = true
	}

	if !foundAny {
		return p.FallbackPatterns, nil
	}

	return deduplicate(patterns), nil
}

// parseFile reads a single gitignore-style file and returns patterns.
func (p *Parser) parseFile(path string) ([]string, error) {
	file, err := os.Open(path)
	if err != nil {
		return nil, err
	}
	defer file.Close()

	var patterns []string
	scanner := bufio.NewScanner(file)

	for scanner.Scan() {
		line := scanner.Text()
		pattern := parseLine(line)
		if pattern != "" {
			patterns = append(patterns, pattern)
		}
	}

	if err := scanner.Err(); err != nil {
		return nil, err
	}

	return patterns, nil
}

// parseLine parses a single line from a gitignore file.
// Returns empty string for comments and blank lines.
func parseLine(line string) string {
	line = strings.TrimRight(line, " \t")

	if line == "" {
		return ""
	}

	// Comments
	if strings.HasPrefix(line, "#") {
		return ""
	}

	// Negation patterns are not supported
	if strings.HasPrefix(line, "!") {
		return ""
	}

	return toGlobPattern(line)
}

// toGlobPattern converts a gitignore pattern to a glob pattern.
func toGlobPattern(pattern string) string {
	// A leading slash anchors to the root, which is already where
	// matching is rooted.
	pattern = strings.TrimPrefix(pattern, "/")

	// A trailing slash means directory; match its contents too.
	if strings.HasSuffix(pattern, "/") {
		pattern = pattern + "**"
	}

	// A pattern without a slash can match at any depth.
	if !strings.Contains(pattern, "/") && !strings.HasPrefix(pattern, "**/") {
		if !strings.HasPrefix(pattern, "*") {
			pattern = "**/" + pattern
		}
	}

	// Bare directory names also exclude everything under them.
	if !strings.HasSuffix(pattern, "/**") && !strings.HasSuffix(pattern, "/*") && !strings.Contains(pattern, ".") {
		pattern = pattern + "/**"
	}

	return pattern
}

// deduplicate removes duplicate patterns while preserving order.
func deduplicate(patterns []string) []string {
	seen := make(map[string]bool)
	result := make([]string, 0, len(patterns))

	for _, p := range patterns {
		if !seen[p] {
			seen[p] = true
			result = append(result, p)
		}
	}

	return result
}

// Matcher answers whether a root-relative path is excluded by a
// pattern set.
type Matcher struct {
	patterns []string
}

// NewMatcher creates a Matcher from glob patterns.
func NewMatcher(patterns []string) *Matcher {
	return &Matcher{patterns: patterns}
}

// MatcherForRoot parses ignore files under root and returns a Matcher
// over the resulting patterns.
func MatcherForRoot(root string, fallbackPatterns []string) (*Matcher, error) {
	patterns, err := NewParser(DefaultIgnoreFiles, fallbackPatterns).ParseRoot(root)
	if err != nil {
		return nil, err
	}
	return NewMatcher(patterns), nil
}

// Match reports whether the slash-separated root-relative path matches
// any pattern.
func (m *Matcher) Match(relPath string) bool {
	relPath = filepath.ToSlash(relPath)
	for _, pattern := range m.patterns {
		if doublestar.MatchUnvalidated(pattern, relPath) {
			return true
		}
	}
	return false
}

// Patterns returns the pattern set, for logging.
func (m *Matcher) Patterns() []string {
	return m.patterns
}
