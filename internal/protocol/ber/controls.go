package ber

import (
	"errors"
	"fmt"
)

// OIDPagedResults is the Simple Paged Results control (RFC 2696). The server
// acknowledges it but serves everything in a single page.
const OIDPagedResults = "1.2.840.113556.1.4.319"

// tagControls is the context tag of the optional controls field trailing the
// protocolOp in an LDAPMessage.
const tagControls = 0

// Control is a decoded LDAP control.
type Control struct {
	OID         string
	Criticality bool
	Value       []byte
}

// decodeControls parses the controls element ([0] SEQUENCE OF Control).
func decodeControls(elem Element) ([]Control, error) {
	var controls []Control
	for _, child := range elem.Children {
		if !child.Constructed || len(child.Children) == 0 {
			return nil, errors.New("ber: malformed control")
		}
		ctrl := Control{OID: child.Children[0].String()}
		for _, field := range child.Children[1:] {
			switch {
			case field.isUniversal(TagBoolean):
				crit, err := field.Boolean()
				if err != nil {
					return nil, err
				}
				ctrl.Criticality = crit
			case field.isUniversal(TagOctetString):
				ctrl.Value = field.Raw
			default:
				return nil, fmt.Errorf("ber: unexpected control field tag %d", field.Tag)
			}
		}
		controls = append(controls, ctrl)
	}
	return controls, nil
}

// appendControls encodes the controls field of an LDAPMessage.
func appendControls(dst []byte, controls []Control) []byte {
	var content []byte
	for _, ctrl := range controls {
		var fields []byte
		fields = appendOctetString(fields, ctrl.OID)
		if ctrl.Criticality {
			fields = appendBoolean(fields, true)
		}
		if ctrl.Value != nil {
			fields = appendTagged(fields, ClassUniversal, false, TagOctetString, ctrl.Value)
		}
		content = appendSequence(content, fields)
	}
	return appendTagged(dst, ClassContext, true, tagControls, content)
}

// PagedResultsValue is the decoded controlValue of a paged results control.
type PagedResultsValue struct {
	Size   int64
	Cookie []byte
}

// DecodePagedResultsValue parses the realSearchControlValue SEQUENCE.
func DecodePagedResultsValue(value []byte) (PagedResultsValue, error) {
	var v PagedResultsValue
	elem, n, err := DecodeElement(value)
	if err != nil {
		return v, fmt.Errorf("ber: paged results value: %w", err)
	}
	if n != len(value) || !elem.isUniversal(TagSequence) || len(elem.Children) != 2 {
		return v, errors.New("ber: malformed paged results value")
	}
	v.Size, err = elem.Children[0].Integer()
	if err != nil {
		return v, err
	}
	v.Cookie = elem.Children[1].Raw
	return v, nil
}

// EncodePagedResultsValue builds the controlValue for the response control.
func EncodePagedResultsValue(size int64, cookie []byte) []byte {
	var content []byte
	content = appendInteger(content, size)
	content = appendTagged(content, ClassUniversal, false, TagOctetString, cookie)
	return appendSequence(nil, content)
}

// PagedResultsAck is the response control acknowledging a paged search:
// size=0 and an empty cookie mean "no more pages".
func PagedResultsAck() Control {
	return Control{
		OID:   OIDPagedResults,
		Value: EncodePagedResultsValue(0, nil),
	}
}
