package capability

import (
	"fmt"
	"strings"

	"forgecore/internal/forgeerr"
)

type operator int

const (
	opEQ operator = iota
	opGE
	opLE
	opGT
	opLT
)

type constraint struct {
	op      operator
	version Version
}

func (c constraint) matches(v Version) bool {
	cmp := v.Compare(c.version)
	switch c.op {
	case opEQ:
		return cmp == 0
	case opGE:
		return cmp >= 0
	case opLE:
		return cmp <= 0
	case opGT:
		return cmp > 0
	case opLT:
		return cmp < 0
	}
	return false
}

// rangeSpec is a comma-separated conjunction of constraints, e.g.
// ">=1.2,<2.0". All constraints must match for a version to satisfy it.
type rangeSpec struct {
	constraints []constraint
}

// parseRangeSpec parses a range expression. A leading "^X.Y" expands to the
// sugar ">=X.Y,<(X+1).0" before parsing, matching any version with the same
// major component that is not older than X.Y.
func parseRangeSpec(spec string) (rangeSpec, error) {
	spec = strings.TrimSpace(spec)
	if strings.HasPrefix(spec, "^") {
		base, err := ParseVersion(spec[1:])
		if err != nil {
			return rangeSpec{}, forgeerr.Wrap(forgeerr.KindBadVersion, fmt.Sprintf("invalid caret range %q", spec), err)
		}
		upper, err := ParseVersion(fmt.Sprintf("%d.0", base.Major()+1))
		if err != nil {
			return rangeSpec{}, err
		}
		return rangeSpec{constraints: []constraint{
			{op: opGE, version: base},
			{op: opLT, version: upper},
		}}, nil
	}

	clauses := strings.Split(spec, ",")
	constraints := make([]constraint, 0, len(clauses))
	for _, clause := range clauses {
		clause = strings.TrimSpace(clause)
		if clause == "" {
			continue
		}
		c, err := parseConstraint(clause)
		if err != nil {
			return rangeSpec{}, err
		}
		constraints = append(constraints, c)
	}
	if len(constraints) == 0 {
		return rangeSpec{}, forgeerr.New(forgeerr.KindBadVersion, "empty range spec")
	}
	return rangeSpec{constraints: constraints}, nil
}

func parseConstraint(clause string) (constraint, error) {
	var op operator
	var rest string
	switch {
	case strings.HasPrefix(clause, ">="):
		op, rest = opGE, clause[2:]
	case strings.HasPrefix(clause, "<="):
		op, rest = opLE, clause[2:]
	case strings.HasPrefix(clause, "=="):
		op, rest = opEQ, clause[2:]
	case strings.HasPrefix(clause, ">"):
		op, rest = opGT, clause[1:]
	case strings.HasPrefix(clause, "<"):
		op, rest = opLT, clause[1:]
	case strings.HasPrefix(clause, "="):
		op, rest = opEQ, clause[1:]
	default:
		op, rest = opEQ, clause
	}
	v, err := ParseVersion(rest)
	if err != nil {
		return constraint{}, forgeerr.Wrap(forgeerr.KindBadVersion, fmt.Sprintf("invalid constraint %q", clause), err)
	}
	return constraint{op: op, version: v}, nil
}

func (r rangeSpec) matches(v Version) bool {
	for _, c := range r.constraints {
		if !c.matches(v) {
			return false
		}
	}
	return true
}
