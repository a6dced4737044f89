package ignore

import (
	"bufio"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/gobwas/glob"
)

// DefaultPatterns are directory names never indexed or watched
var DefaultPatterns = []string{
	"node_modules",
	".git",
	"target",
	"dist",
	"build",
	"__pycache__",
	".next",
	".nuxt",
}

// Options configures a Matcher
type Options struct {
	// Patterns are extra names or globs. A plain name matches anywhere in the
	// relative path as a substring, a glob without "/" matches segment names,
	// a glob with "/" matches from the root.
	Patterns []string
	// UseGitignore loads rules from <root>/.gitignore when present
	UseGitignore bool
	// IncludeHidden disables rejection of dot-prefixed segments
	IncludeHidden bool
}

// rule is one compiled pattern, either a caller pattern or a .gitignore line
type rule struct {
	pattern  string
	negate   bool
	dirOnly  bool
	anchored bool
	globs    []glob.Glob
}

func (r rule) matches(segment, prefix string) bool {
	target := segment
	if r.anchored {
		target = prefix
	}
	for _, g := range r.globs {
		if g.Match(target) {
			return true
		}
	}
	return false
}

// Matcher decides whether a path under a repository root is ignored.
// It is immutable after construction and safe for concurrent use.
type Matcher struct {
	root       string
	denylist   map[string]struct{}
	substrings []string
	patterns   []rule
	gitignore  []rule
	skipHidden bool
}

// New builds a Matcher rooted at root
func New(root string, opts Options) (*Matcher, error) {
	absRoot, err := filepath.Abs(root)
	if err != nil {
		return nil, fmt.Errorf("failed to resolve root %s: %w", root, err)
	}

	m := &Matcher{
		root:       absRoot,
		denylist:   make(map[string]struct{}, len(DefaultPatterns)),
		skipHidden: !opts.IncludeHidden,
	}
	for _, name := range DefaultPatterns {
		m.denylist[name] = struct{}{}
	}

	for _, p := range opts.Patterns {
		p = strings.TrimSpace(p)
		if p == "" {
			continue
		}
		if !strings.ContainsAny(p, "*?[{/") {
			m.substrings = append(m.substrings, p)
			continue
		}
		r, err := compileRule(p)
		if err != nil {
			return nil, fmt.Errorf("invalid ignore pattern %q: %w", p, err)
		}
		m.patterns = append(m.patterns, r)
	}

	if opts.UseGitignore {
		rules, err := loadGitignore(filepath.Join(absRoot, ".gitignore"))
		if err != nil {
			return nil, err
		}
		m.gitignore = rules
	}

	return m, nil
}

// Root returns the absolute root the matcher evaluates paths against
func (m *Matcher) Root() string {
	return m.root
}

// Rel converts an absolute path to a slash-separated path relative to the root.
// The second return is false when the path lies outside the root.
func (m *Matcher) Rel(absPath string) (string, bool) {
	rel, err := filepath.Rel(m.root, absPath)
	if err != nil {
		return "", false
	}
	rel = filepath.ToSlash(rel)
	if rel == ".." || strings.HasPrefix(rel, "../") {
		return "", false
	}
	return rel, true
}

// MatchAbs reports whether an absolute path is ignored. Paths outside the root are ignored.
func (m *Matcher) MatchAbs(absPath string, isDir bool) bool {
	rel, ok := m.Rel(absPath)
	if !ok {
		return true
	}
	return m.Match(rel, isDir)
}

// Match reports whether a root-relative, slash-separated path is ignored.
// A path is ignored when any of its ancestors is. The built-in denylist
// matches whole segments so src/rebuild.ts is kept.
func (m *Matcher) Match(relPath string, isDir bool) bool {
	if relPath == "." || relPath == "" {
		return false
	}
	for _, sub := range m.substrings {
		if strings.Contains(relPath, sub) {
			return true
		}
	}

	segments := strings.Split(relPath, "/")
	for i, segment := range segments {
		prefix := strings.Join(segments[:i+1], "/")
		segIsDir := isDir || i < len(segments)-1

		if m.skipHidden && strings.HasPrefix(segment, ".") {
			return true
		}
		if _, denied := m.denylist[segment]; denied {
			return true
		}
		for _, r := range m.patterns {
			if r.dirOnly && !segIsDir {
				continue
			}
			if r.matches(segment, prefix) {
				return true
			}
		}
		if m.gitignored(segment, prefix, segIsDir) {
			return true
		}
	}
	return false
}

// gitignored applies .gitignore rules to a single prefix; the last matching rule wins
func (m *Matcher) gitignored(segment, prefix string, isDir bool) bool {
	ignored := false
	for _, r := range m.gitignore {
		if r.dirOnly && !isDir {
			continue
		}
		if r.matches(segment, prefix) {
			ignored = !r.negate
		}
	}
	return ignored
}

func loadGitignore(path string) ([]rule, error) {
	f, err := os.Open(path)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, nil
		}
		return nil, fmt.Errorf("failed to open %s: %w", path, err)
	}
	defer f.Close()

	var rules []rule
	scanner := bufio.NewScanner(f)
	for scanner.Scan() {
		line := strings.TrimRight(scanner.Text(), " \t\r")
		if line == "" || strings.HasPrefix(line, "#") {
			continue
		}
		r, err := compileRule(line)
		if err != nil {
			// git skips malformed lines
			continue
		}
		rules = append(rules, r)
	}
	if err := scanner.Err(); err != nil {
		return nil, fmt.Errorf("failed to read %s: %w", path, err)
	}
	return rules, nil
}

func compileRule(line string) (rule, error) {
	r := rule{pattern: line}

	if strings.HasPrefix(line, "!") {
		r.negate = true
		line = line[1:]
	}
	if strings.HasPrefix(line, `\`) {
		line = line[1:]
	}
	if strings.HasSuffix(line, "/") {
		r.dirOnly = true
		line = strings.TrimSuffix(line, "/")
	}
	if strings.Contains(line, "/") {
		r.anchored = true
		line = strings.TrimPrefix(line, "/")
	}
	if line == "" {
		return rule{}, fmt.Errorf("empty pattern")
	}

	sources := []string{line}
	if r.anchored && strings.HasPrefix(line, "**/") {
		sources = append(sources, strings.TrimPrefix(line, "**/"))
	}
	for _, src := range sources {
		g, err := glob.Compile(src, '/')
		if err != nil {
			return rule{}, err
		}
		r.globs = append(r.globs, g)
	}
	return r, nil
}
