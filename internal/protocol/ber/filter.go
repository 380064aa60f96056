package ber

import (
	"fmt"
	"strings"
)

// FilterType identifies one alternative of the RFC 4511 Filter CHOICE.
type FilterType uint8

const (
	FilterAnd            FilterType = 0
	FilterOr             FilterType = 1
	FilterNot            FilterType = 2
	FilterEquality       FilterType = 3
	FilterSubstrings     FilterType = 4
	FilterGreaterOrEqual FilterType = 5
	FilterLessOrEqual    FilterType = 6
	FilterPresent        FilterType = 7
	FilterApprox         FilterType = 8
	FilterExtensible     FilterType = 9
)

// Substring tag numbers inside a SubstringFilter.
const (
	substrInitial = 0
	substrAny     = 1
	substrFinal   = 2
)

// SubstringPattern is the decoded substrings assertion: initial*any*final.
type SubstringPattern struct {
	Initial string
	Any     []string
	Final   string
}

// Filter is a decoded search filter tree.
//
// And/Or carry Children; Not carries exactly one child. The comparison
// alternatives carry Attribute and Value; Present carries only Attribute;
// Substrings carries Attribute and Pattern. Extensible filters are decoded
// far enough to be recognized (and rejected upstream with
// unwillingToPerform) but their matching rule is not interpreted.
type Filter struct {
	Type      FilterType
	Children  []Filter
	Attribute string
	Value     string
	Pattern   SubstringPattern
}

// decodeFilter decodes a filter element. Filters are context-specific tagged
// per RFC 4511, but some clients emit APPLICATION class tags; both are
// accepted (spec robustness requirement).
func decodeFilter(elem Element) (Filter, error) {
	if elem.Class != ClassContext && elem.Class != ClassApplication {
		return Filter{}, fmt.Errorf("ber: filter element has class %d", elem.Class)
	}

	f := Filter{Type: FilterType(elem.Tag)}
	switch f.Type {
	case FilterAnd, FilterOr:
		for _, child := range elem.Children {
			sub, err := decodeFilter(child)
			if err != nil {
				return Filter{}, err
			}
			f.Children = append(f.Children, sub)
		}
		if len(f.Children) == 0 {
			return Filter{}, fmt.Errorf("ber: empty %s filter", f.Type)
		}

	case FilterNot:
		if len(elem.Children) != 1 {
			return Filter{}, fmt.Errorf("ber: NOT filter with %d children", len(elem.Children))
		}
		sub, err := decodeFilter(elem.Children[0])
		if err != nil {
			return Filter{}, err
		}
		f.Children = []Filter{sub}

	case FilterEquality, FilterGreaterOrEqual, FilterLessOrEqual, FilterApprox:
		if len(elem.Children) != 2 {
			return Filter{}, fmt.Errorf("ber: attribute value assertion with %d children", len(elem.Children))
		}
		f.Attribute = elem.Children[0].String()
		f.Value = elem.Children[1].String()

	case FilterSubstrings:
		if len(elem.Children) != 2 || !elem.Children[1].Constructed {
			return Filter{}, fmt.Errorf("ber: malformed substrings filter")
		}
		f.Attribute = elem.Children[0].String()
		seenFinal := false
		for _, sub := range elem.Children[1].Children {
			switch sub.Tag {
			case substrInitial:
				if f.Pattern.Initial != "" || len(f.Pattern.Any) > 0 || seenFinal {
					return Filter{}, fmt.Errorf("ber: initial substring out of order")
				}
				f.Pattern.Initial = sub.String()
			case substrAny:
				if seenFinal {
					return Filter{}, fmt.Errorf("ber: any substring after final")
				}
				f.Pattern.Any = append(f.Pattern.Any, sub.String())
			case substrFinal:
				if seenFinal {
					return Filter{}, fmt.Errorf("ber: duplicate final substring")
				}
				f.Pattern.Final = sub.String()
				seenFinal = true
			default:
				return Filter{}, fmt.Errorf("ber: unknown substring tag %d", sub.Tag)
			}
		}

	case FilterPresent:
		// Primitive: the content is the attribute description itself.
		f.Attribute = elem.String()

	case FilterExtensible:
		// Recognized but not interpreted; the search executor answers
		// unwillingToPerform.

	default:
		return Filter{}, fmt.Errorf("ber: unknown filter tag %d", elem.Tag)
	}
	return f, nil
}

// appendFilter encodes a filter tree. Used by tests and by any component that
// needs to reproduce a filter on the wire.
func appendFilter(dst []byte, f Filter) ([]byte, error) {
	switch f.Type {
	case FilterAnd, FilterOr:
		var content []byte
		var err error
		for _, child := range f.Children {
			content, err = appendFilter(content, child)
			if err != nil {
				return nil, err
			}
		}
		return appendTagged(dst, ClassContext, true, uint32(f.Type), content), nil

	case FilterNot:
		if len(f.Children) != 1 {
			return nil, fmt.Errorf("ber: NOT filter must have one child")
		}
		content, err := appendFilter(nil, f.Children[0])
		if err != nil {
			return nil, err
		}
		return appendTagged(dst, ClassContext, true, uint32(f.Type), content), nil

	case FilterEquality, FilterGreaterOrEqual, FilterLessOrEqual, FilterApprox:
		var content []byte
		content = appendOctetString(content, f.Attribute)
		content = appendOctetString(content, f.Value)
		return appendTagged(dst, ClassContext, true, uint32(f.Type), content), nil

	case FilterSubstrings:
		var subs []byte
		if f.Pattern.Initial != "" {
			subs = appendTagged(subs, ClassContext, false, substrInitial, []byte(f.Pattern.Initial))
		}
		for _, any := range f.Pattern.Any {
			subs = appendTagged(subs, ClassContext, false, substrAny, []byte(any))
		}
		if f.Pattern.Final != "" {
			subs = appendTagged(subs, ClassContext, false, substrFinal, []byte(f.Pattern.Final))
		}
		var content []byte
		content = appendOctetString(content, f.Attribute)
		content = appendSequence(content, subs)
		return appendTagged(dst, ClassContext, true, uint32(f.Type), content), nil

	case FilterPresent:
		return appendTagged(dst, ClassContext, false, uint32(f.Type), []byte(f.Attribute)), nil

	default:
		return nil, fmt.Errorf("ber: cannot encode filter type %d", f.Type)
	}
}

// String renders the filter in RFC 4515 style for logs.
func (f Filter) String() string {
	var b strings.Builder
	f.writeString(&b)
	return b.String()
}

func (t FilterType) String() string {
	switch t {
	case FilterAnd:
		return "and"
	case FilterOr:
		return "or"
	case FilterNot:
		return "not"
	case FilterEquality:
		return "equalityMatch"
	case FilterSubstrings:
		return "substrings"
	case FilterGreaterOrEqual:
		return "greaterOrEqual"
	case FilterLessOrEqual:
		return "lessOrEqual"
	case FilterPresent:
		return "present"
	case FilterApprox:
		return "approxMatch"
	case FilterExtensible:
		return "extensibleMatch"
	default:
		return "unknown"
	}
}

func (f Filter) writeString(b *strings.Builder) {
	switch f.Type {
	case FilterAnd, FilterOr:
		op := "&"
		if f.Type == FilterOr {
			op = "|"
		}
		b.WriteString("(" + op)
		for _, c := range f.Children {
			c.writeString(b)
		}
		b.WriteString(")")
	case FilterNot:
		b.WriteString("(!")
		if len(f.Children) == 1 {
			f.Children[0].writeString(b)
		}
		b.WriteString(")")
	case FilterEquality:
		fmt.Fprintf(b, "(%s=%s)", f.Attribute, f.Value)
	case FilterGreaterOrEqual:
		fmt.Fprintf(b, "(%s>=%s)", f.Attribute, f.Value)
	case FilterLessOrEqual:
		fmt.Fprintf(b, "(%s<=%s)", f.Attribute, f.Value)
	case FilterApprox:
		fmt.Fprintf(b, "(%s~=%s)", f.Attribute, f.Value)
	case FilterPresent:
		fmt.Fprintf(b, "(%s=*)", f.Attribute)
	case FilterSubstrings:
		fmt.Fprintf(b, "(%s=%s", f.Attribute, f.Pattern.Initial)
		b.WriteString("*")
		for _, any := range f.Pattern.Any {
			b.WriteString(any + "*")
		}
		b.WriteString(f.Pattern.Final + ")")
	case FilterExtensible:
		b.WriteString("(extensible)")
	default:
		b.WriteString("(?)")
	}
}
