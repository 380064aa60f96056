package directory

import (
	"strings"

	"github.com/ldaptoid/ldaptoid/internal/protocol/ber"
)

// Evaluate matches a decoded search filter against an entry.
//
// Matching follows LDAP default string syntax: case-insensitive equality,
// substrings over the space-joined multi-value text, lexicographic ordering
// comparisons, approxMatch treated as equality. Unknown attributes and
// unknown filter alternatives evaluate to false (extensibleMatch never gets
// here; the executor rejects it with unwillingToPerform first).
func Evaluate(f ber.Filter, e *Entry) bool {
	switch f.Type {
	case ber.FilterAnd:
		for _, child := range f.Children {
			if !Evaluate(child, e) {
				return false
			}
		}
		return true

	case ber.FilterOr:
		for _, child := range f.Children {
			if Evaluate(child, e) {
				return true
			}
		}
		return false

	case ber.FilterNot:
		if len(f.Children) != 1 {
			return false
		}
		return !Evaluate(f.Children[0], e)

	case ber.FilterPresent:
		return len(e.Values(normalizeAssertion(f.Attribute))) > 0

	case ber.FilterEquality, ber.FilterApprox:
		want := strings.ToLower(normalizeAssertion(f.Value))
		for _, v := range e.Values(normalizeAssertion(f.Attribute)) {
			if strings.ToLower(v) == want {
				return true
			}
		}
		return false

	case ber.FilterGreaterOrEqual:
		want := strings.ToLower(normalizeAssertion(f.Value))
		for _, v := range e.Values(normalizeAssertion(f.Attribute)) {
			if strings.ToLower(v) >= want {
				return true
			}
		}
		return false

	case ber.FilterLessOrEqual:
		want := strings.ToLower(normalizeAssertion(f.Value))
		for _, v := range e.Values(normalizeAssertion(f.Attribute)) {
			if strings.ToLower(v) <= want {
				return true
			}
		}
		return false

	case ber.FilterSubstrings:
		values := e.Values(normalizeAssertion(f.Attribute))
		if len(values) == 0 {
			return false
		}
		// Multi-valued attributes are joined with a single space before
		// substring matching.
		text := strings.ToLower(strings.Join(values, " "))
		return matchSubstrings(text, f.Pattern)

	default:
		return false
	}
}

// matchSubstrings checks initial*any…*final against the joined value text.
func matchSubstrings(text string, p ber.SubstringPattern) bool {
	if initial := strings.ToLower(normalizeAssertion(p.Initial)); initial != "" {
		if !strings.HasPrefix(text, initial) {
			return false
		}
		text = text[len(initial):]
	}
	for _, any := range p.Any {
		any = strings.ToLower(normalizeAssertion(any))
		idx := strings.Index(text, any)
		if idx < 0 {
			return false
		}
		text = text[idx+len(any):]
	}
	if final := strings.ToLower(normalizeAssertion(p.Final)); final != "" {
		return strings.HasSuffix(text, final)
	}
	return true
}

// normalizeAssertion strips stray framing bytes that leak into attribute
// descriptions and assertion values from lenient BER decoders (leading tag or
// length octets, trailing NULs) along with surrounding whitespace.
func normalizeAssertion(s string) string {
	return strings.TrimFunc(s, func(r rune) bool {
		return r < 0x20 || r == 0x7F
	})
}
