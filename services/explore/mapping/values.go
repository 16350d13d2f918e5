// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.

package mapping

import (
	"fmt"
	"strconv"
	"strings"

	"github.com/lca1/glowing-bear/services/explore/alerts"
	"github.com/lca1/glowing-bear/services/explore/constraint"
)

// SetValues applies an item's operator and value to c.
//
// # Description
//
// Nothing happens when operator is empty. Problems are reported to sink
// with error severity and never returned: an unknown operator, an unknown
// concept type, or an unparsable number leave the matching fields unset
// while the rest of the mapping goes on.
//
// # Inputs
//
//   - c: Constraint built from the resolved tree node. Must have a Concept.
//   - value: Operand as sent on the wire. BETWEEN uses "<min> and <max>",
//     IN a comma separated list of optionally quoted tokens.
//   - operator: Wire operator name.
//   - sink: Receives the error alerts. Nil discards them.
func SetValues(c *constraint.ConceptConstraint, value, operator string, sink alerts.Sink) {
	if operator == "" {
		return
	}
	if sink == nil {
		sink = alerts.Discard
	}

	switch c.Concept.Type {
	case constraint.ValueTypeNumerical:
		c.ApplyNumericalOperator = true
		op := constraint.NumericalOperator(operator)
		switch {
		case op.IsSingleOperand():
			c.NumericalOperator = op
			v, err := parseNumber(value, c.Concept.IsInteger)
			if err != nil {
				alertf(sink, "While parsing concept constraint %s, value %q of operator %s is not a number", c.TextRepresentation(), value, operator)
				return
			}
			c.NumValue = v
		case op == constraint.NumericalBetween:
			c.NumericalOperator = op
			bounds := strings.SplitN(value, "and", 2)
			if len(bounds) != 2 {
				alertf(sink, "While parsing concept constraint %s, value %q of operator %s is not a range", c.TextRepresentation(), value, operator)
				return
			}
			lo, errLo := parseNumber(strings.TrimSpace(bounds[0]), c.Concept.IsInteger)
			hi, errHi := parseNumber(strings.TrimSpace(bounds[1]), c.Concept.IsInteger)
			if errLo != nil || errHi != nil {
				alertf(sink, "While parsing concept constraint %s, value %q of operator %s is not a range", c.TextRepresentation(), value, operator)
				return
			}
			c.MinValue, c.MaxValue = lo, hi
		default:
			alertf(sink, "While parsing concept constraint %s, numerical operator %s unknown", c.TextRepresentation(), operator)
		}

	case constraint.ValueTypeText:
		c.ApplyTextOperator = true
		op := constraint.TextOperator(operator)
		switch {
		case op.IsLike():
			c.TextOperator = op
			c.TextOperatorValue = value
		case op == constraint.TextIn:
			c.TextOperator = op
			c.TextOperatorValue = strings.Join(splitInValues(value), ",")
		default:
			alertf(sink, "While parsing concept constraint %s, text operator %s unknown", c.TextRepresentation(), operator)
		}

	default:
		alertf(sink, "While parsing concept constraint %s, type %s unknown", c.TextRepresentation(), c.Concept.Type)
	}
}

func alertf(sink alerts.Sink, format string, args ...any) {
	sink.Alert(alerts.SeverityError, fmt.Sprintf(format, args...))
}

// splitInValues splits an IN operand and strips one leading and one
// trailing single quote from each trimmed token. Escaped or embedded
// quotes are not handled.
func splitInValues(value string) []string {
	tokens := strings.Split(value, ",")
	for i, tok := range tokens {
		tok = strings.TrimSpace(tok)
		tok = strings.TrimPrefix(tok, "'")
		tok = strings.TrimSuffix(tok, "'")
		tokens[i] = tok
	}
	return tokens
}

// parseNumber parses s as an integer when integer is set, otherwise as a
// float. Integer parsing reads the leading integer and ignores the rest,
// so "42.7" gives 42.
func parseNumber(s string, integer bool) (float64, error) {
	s = strings.TrimSpace(s)
	if !integer {
		return strconv.ParseFloat(s, 64)
	}

	end := 0
	if end < len(s) && (s[end] == '-' || s[end] == '+') {
		end++
	}
	digits := end
	for end < len(s) && s[end] >= '0' && s[end] <= '9' {
		end++
	}
	if end == digits {
		return 0, fmt.Errorf("no leading integer in %q", s)
	}
	n, err := strconv.ParseInt(s[:end], 10, 64)
	if err != nil {
		return 0, err
	}
	return float64(n), nil
}

// formatNumber is the inverse of parseNumber for well-formed input.
func formatNumber(v float64, integer bool) string {
	if integer {
		return strconv.FormatInt(int64(v), 10)
	}
	return strconv.FormatFloat(v, 'f', -1, 64)
}
