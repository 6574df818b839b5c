package chat

import (
	"fmt"
	"regexp"
)

// Filter selects messages whose body or speaker matches a case-insensitive
// regular expression. The zero pattern matches everything.
type Filter struct {
	re *regexp.Regexp
}

// NewFilter compiles expr as (?i)(expr).
func NewFilter(expr string) (Filter, error) {
	re, err := regexp.Compile("(?i)(" + expr + ")")
	if err != nil {
		return Filter{}, fmt.Errorf("compile filter %q: %w", expr, err)
	}
	return Filter{re: re}, nil
}

// Match reports whether m passes the filter.
func (f Filter) Match(m Message) bool {
	if f.re == nil {
		return true
	}
	if f.re.MatchString(m.Body) {
		return true
	}
	return m.User != "" && f.re.MatchString(m.User)
}

// MatchString applies the filter to raw text, e.g. a transcript line.
func (f Filter) MatchString(s string) bool {
	return f.re == nil || f.re.MatchString(s)
}

// String returns the compiled pattern.
func (f Filter) String() string {
	if f.re == nil {
		return ""
	}
	return f.re.String()
}
