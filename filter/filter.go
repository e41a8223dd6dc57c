// Package filter implements the prefix allow/deny rule lists applied on
// ingress and egress by the fsm package (§4.7).
package filter

import "github.com/route-beacon/bgpspeaker/bgp"

type Kind uint8

const (
	Strict Kind = iota // exact prefix equality
	Loose              // rule.Prefix includes the candidate
)

type Op uint8

const (
	Nop Op = iota
	Accept
	Reject
)

// Rule4 and Rule6 are per-AFI since bgp.Prefix4/Prefix6 are distinct
// Go types; a List4/List6 holds exactly one address family.
type Rule4 struct {
	Kind   Kind
	Op     Op
	Prefix bgp.Prefix4
}

type Rule6 struct {
	Kind   Kind
	Op     Op
	Prefix bgp.Prefix6
}

// List4 is an ordered rule list evaluated in reverse insertion order;
// the first non-Nop result wins, falling back to Default when nothing
// matches.
type List4 struct {
	Rules   []Rule4
	Default Op
}

type List6 struct {
	Rules   []Rule6
	Default Op
}

func NewList4(def Op) *List4 { return &List4{Default: def} }
func NewList6(def Op) *List6 { return &List6{Default: def} }

func (l *List4) Add(r Rule4) { l.Rules = append(l.Rules, r) }
func (l *List6) Add(r Rule6) { l.Rules = append(l.Rules, r) }

// Evaluate reports whether candidate is accepted.
func (l *List4) Evaluate(candidate bgp.Prefix4) bool {
	for i := len(l.Rules) - 1; i >= 0; i-- {
		r := l.Rules[i]
		if !matches4(r, candidate) {
			continue
		}
		switch r.Op {
		case Accept:
			return true
		case Reject:
			return false
		}
	}
	return l.Default == Accept
}

func (l *List6) Evaluate(candidate bgp.Prefix6) bool {
	for i := len(l.Rules) - 1; i >= 0; i-- {
		r := l.Rules[i]
		if !matches6(r, candidate) {
			continue
		}
		switch r.Op {
		case Accept:
			return true
		case Reject:
			return false
		}
	}
	return l.Default == Accept
}

func matches4(r Rule4, candidate bgp.Prefix4) bool {
	if r.Kind == Strict {
		return r.Prefix.Equal(candidate)
	}
	return r.Prefix.Includes(candidate)
}

func matches6(r Rule6, candidate bgp.Prefix6) bool {
	if r.Kind == Strict {
		return r.Prefix.Equal(candidate)
	}
	return r.Prefix.Includes(candidate)
}
