// Package parser turns bulk-edit scripts into structured commands.
//
// Two syntaxes are supported: the line-oriented v1 format, where each line
// is a TAB- or pipe-separated list of tokens, and a CSV format with a
// header row. Parsing is pure; LAST placeholders are kept as-is and
// resolved at execution time.
package parser

import (
	"errors"
	"fmt"

	"github.com/raphaelgruber/wikibatch/internal/models"
)

// ErrUnknownSyntax is returned for a syntax other than v1 or csv.
var ErrUnknownSyntax = errors.New("unknown script syntax")

// Parse parses a whole script. On success the commands are indexed from
// zero in script order. If any line fails, no commands are returned and
// the error is an ErrorList holding every failing line.
func Parse(script string, syntax models.Syntax) ([]models.Command, error) {
	var cmds []models.Command
	switch syntax {
	case models.SyntaxV1, "":
		var err error
		cmds, err = parseV1(script)
		if err != nil {
			return nil, err
		}
	case models.SyntaxCSV:
		var err error
		cmds, err = ParseCSV(script)
		if err != nil {
			return nil, err
		}
	default:
		return nil, fmt.Errorf("%w: %q", ErrUnknownSyntax, syntax)
	}

	for i := range cmds {
		cmds[i].Index = i
	}
	return cmds, nil
}

func parseV1(script string) ([]models.Command, error) {
	var cmds []models.Command
	var errs ErrorList
	for i, line := range SplitV1(script) {
		cmd, err := ParseV1Line(line)
		if err != nil {
			errs = append(errs, &ParseError{Line: i + 1, Raw: line, Reason: err.Error()})
			continue
		}
		if cmd != nil {
			cmds = append(cmds, *cmd)
		}
	}
	if len(errs) > 0 {
		return nil, errs
	}
	return cmds, nil
}
