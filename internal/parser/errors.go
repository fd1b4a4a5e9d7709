package parser

import (
	"fmt"
	"strings"
)

// ParseError describes one script line that could not be parsed.
type ParseError struct {
	Line   int    `json:"line"`
	Raw    string `json:"raw"`
	Reason string `json:"reason"`
}

func (e *ParseError) Error() string {
	return fmt.Sprintf("line %d: %s: %q", e.Line, e.Reason, e.Raw)
}

// ErrorList collects every ParseError of a script.
type ErrorList []*ParseError

func (l ErrorList) Error() string {
	switch len(l) {
	case 0:
		return "no parse errors"
	case 1:
		return l[0].Error()
	}
	msgs := make([]string, 0, len(l))
	for _, e := range l {
		msgs = append(msgs, e.Error())
	}
	return fmt.Sprintf("%d parse errors: %s", len(l), strings.Join(msgs, "; "))
}

// lineError is returned by the per-line parsers; the caller attaches line
// number and raw text.
type lineError string

func (e lineError) Error() string { return string(e) }

func errorf(format string, args ...any) error {
	return lineError(fmt.Sprintf(format, args...))
}
