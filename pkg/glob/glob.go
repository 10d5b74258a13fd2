// Package glob compiles the single-wildcard patterns used by routing rules
// into anchored regular expressions.
package glob

import (
	"regexp"
	"strings"
)

// Matcher is a compiled glob pattern. The zero value matches nothing; use
// Compile to build one.
type Matcher struct {
	re *regexp.Regexp
}

// Compile converts a glob containing only literal characters and the `*`
// wildcard into a whole-string, case-sensitive Matcher. Every character that
// would otherwise be a regex metacharacter is escaped before `*` is expanded,
// so nothing in the pattern can alter the anchoring or introduce backtracking
// beyond a single `.*` per wildcard.
func Compile(pattern string) (*Matcher, error) {
	var b strings.Builder
	b.WriteByte('^')
	for _, r := range pattern {
		if r == '*' {
			b.WriteString(".*")
			continue
		}
		b.WriteString(regexp.QuoteMeta(string(r)))
	}
	b.WriteByte('$')
	re, err := regexp.Compile(b.String())
	if err != nil {
		return nil, err
	}
	return &Matcher{re: re}, nil
}

// MustCompile is like Compile but panics on error; useful for patterns known
// to be valid at init time.
func MustCompile(pattern string) *Matcher {
	m, err := Compile(pattern)
	if err != nil {
		panic(err)
	}
	return m
}

// Match reports whether s is a whole-string match for the compiled pattern.
func (m *Matcher) Match(s string) bool {
	if m == nil || m.re == nil {
		return false
	}
	return m.re.MatchString(s)
}
