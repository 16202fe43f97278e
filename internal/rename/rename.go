// Package rename rewrites the channel number embedded in a display name.
//
// Detection is an ordered list of independent matchers. The first matcher that
// finds a number token wins; new patterns are added by appending to (or
// building a custom) Matchers list without touching the existing ones.
package rename

import (
	"regexp"
	"strconv"
)

// Token locates the number inside a name: name[Start:End] is the digit run.
type Token struct {
	Start int
	End   int
	Value int
}

// Matcher detects a number token in a display name.
type Matcher interface {
	Name() string
	Match(name string) (Token, bool)
}

// regexMatcher matches a pattern whose capture group "num" is the digit run.
type regexMatcher struct {
	name string
	re   *regexp.Regexp
}

func (m regexMatcher) Name() string { return m.name }

func (m regexMatcher) Match(name string) (Token, bool) {
	loc := m.re.FindStringSubmatchIndex(name)
	if loc == nil {
		return Token{}, false
	}
	idx := m.re.SubexpIndex("num")
	start, end := loc[2*idx], loc[2*idx+1]
	if start < 0 {
		return Token{}, false
	}
	v, err := strconv.Atoi(name[start:end])
	if err != nil {
		return Token{}, false
	}
	return Token{Start: start, End: end, Value: v}, true
}

// Separators accepted between a number and the surrounding text.
const sep = `(?:\s*[:|.#\-]\s*|\s+)`

var (
	// "US: 101 - ESPN", "CH 5 News"
	MidMatcher Matcher = regexMatcher{
		name: "mid",
		re:   regexp.MustCompile(`^[A-Za-z]{1,4}` + sep + `(?P<num>\d+)` + sep + `\S`),
	}
	// "10 - News", "10. News", "10 News"
	PrefixMatcher Matcher = regexMatcher{
		name: "prefix",
		re:   regexp.MustCompile(`^(?P<num>\d+)` + sep + `\S`),
	}
	// "News 10", "News - 10", "News #10"
	SuffixMatcher Matcher = regexMatcher{
		name: "suffix",
		re:   regexp.MustCompile(`\S` + sep + `(?P<num>\d+)$`),
	}
)

// Matchers is an ordered strategy list; earlier entries take priority.
type Matchers []Matcher

// DefaultMatchers is mid-string, then prefix, then suffix.
var DefaultMatchers = Matchers{MidMatcher, PrefixMatcher, SuffixMatcher}

// Find returns the first token any matcher detects.
func (ms Matchers) Find(name string) (Token, bool) {
	for _, m := range ms {
		if tok, ok := m.Match(name); ok {
			return tok, true
		}
	}
	return Token{}, false
}

// Title returns name with its number token replaced by n. ok is false when no
// token is found or the token already equals n.
func (ms Matchers) Title(name string, n int) (string, bool) {
	tok, ok := ms.Find(name)
	if !ok || tok.Value == n {
		return "", false
	}
	return name[:tok.Start] + strconv.Itoa(n) + name[tok.End:], true
}

// Title applies DefaultMatchers.
func Title(name string, n int) (string, bool) {
	return DefaultMatchers.Title(name, n)
}

// Number returns the number DefaultMatchers detect in name.
func Number(name string) (int, bool) {
	tok, ok := DefaultMatchers.Find(name)
	return tok.Value, ok
}
