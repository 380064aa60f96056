// Package ber implements the subset of ASN.1 BER needed to speak LDAPv3
// (RFC 4511) on the wire: definite-length TLV elements, the LDAPMessage
// envelope, the Bind/Unbind/Search PDU family, the search filter algebra and
// the simple paged results control.
//
// The decoder operates on a flat byte buffer and reports how many bytes each
// element consumed. When the buffer ends in the middle of an element the
// decoder returns ErrIncompleteMessage without consuming anything, so the
// connection read loop can simply append more bytes and retry.
package ber

import (
	"errors"
	"fmt"
)

// Class is the BER tag class from the identifier octet.
type Class uint8

const (
	ClassUniversal   Class = 0
	ClassApplication Class = 1
	ClassContext     Class = 2
	ClassPrivate     Class = 3
)

// Universal tags used by LDAP.
const (
	TagBoolean     = 0x01
	TagInteger     = 0x02
	TagOctetString = 0x04
	TagEnumerated  = 0x0A
	TagSequence    = 0x10
	TagSet         = 0x11
)

// MaxElementSize caps the content length of a single BER element. LDAP search
// requests are small; anything larger than this is a broken or malicious
// client and the connection is torn down.
const MaxElementSize = 1 << 20 // 1 MiB

// ErrIncompleteMessage signals that the buffer does not yet contain a whole
// element. The caller should read more bytes and retry; nothing was consumed.
var ErrIncompleteMessage = errors.New("ber: incomplete message")

// Element is one decoded BER TLV. Constructed elements carry their children
// fully parsed; Raw always holds the undecoded content octets so callers can
// reinterpret lenient encodings (e.g. a mis-tagged simple password).
type Element struct {
	Class       Class
	Constructed bool
	Tag         uint32
	Raw         []byte
	Children    []Element
}

// DecodeElement decodes a single element from the start of buf.
//
// Returns the element, the total number of bytes it occupied (header plus
// content), and an error. ErrIncompleteMessage means buf is a valid prefix
// but too short; any other error means the stream is unrecoverable.
func DecodeElement(buf []byte) (Element, int, error) {
	var elem Element
	if len(buf) < 2 {
		return elem, 0, ErrIncompleteMessage
	}

	id := buf[0]
	elem.Class = Class(id >> 6)
	elem.Constructed = id&0x20 != 0
	elem.Tag = uint32(id & 0x1F)
	if elem.Tag == 0x1F {
		// High-tag-number form. LDAP never uses tags >= 31.
		return elem, 0, fmt.Errorf("ber: unsupported high tag number form (first octet 0x%02x)", id)
	}

	length, headerLen, err := decodeLength(buf[1:])
	if err != nil {
		return elem, 0, err
	}
	headerLen++ // identifier octet

	if length > MaxElementSize {
		return elem, 0, fmt.Errorf("ber: element length %d exceeds maximum %d", length, MaxElementSize)
	}
	total := headerLen + length
	if len(buf) < total {
		return elem, 0, ErrIncompleteMessage
	}

	elem.Raw = buf[headerLen:total]
	if elem.Constructed {
		elem.Children, err = decodeChildren(elem.Raw)
		if err != nil {
			return elem, 0, err
		}
	}
	return elem, total, nil
}

// decodeChildren parses the content octets of a constructed element. Inside a
// complete parent, a short child is a malformed stream rather than a framing
// condition, so ErrIncompleteMessage is promoted to a hard error.
func decodeChildren(content []byte) ([]Element, error) {
	var children []Element
	off := 0
	for off < len(content) {
		child, n, err := DecodeElement(content[off:])
		if errors.Is(err, ErrIncompleteMessage) {
			return nil, errors.New("ber: truncated element inside constructed value")
		}
		if err != nil {
			return nil, err
		}
		children = append(children, child)
		off += n
	}
	return children, nil
}

// decodeLength parses a definite BER length starting at buf[0].
// Returns the content length and the number of length octets consumed.
func decodeLength(buf []byte) (int, int, error) {
	if len(buf) == 0 {
		return 0, 0, ErrIncompleteMessage
	}
	first := buf[0]
	if first < 0x80 {
		return int(first), 1, nil
	}
	if first == 0x80 {
		return 0, 0, errors.New("ber: indefinite length not allowed in LDAP")
	}
	numOctets := int(first & 0x7F)
	if numOctets > 4 {
		return 0, 0, fmt.Errorf("ber: length field of %d octets too large", numOctets)
	}
	if len(buf) < 1+numOctets {
		return 0, 0, ErrIncompleteMessage
	}
	length := 0
	for _, b := range buf[1 : 1+numOctets] {
		length = length<<8 | int(b)
	}
	if length < 0 {
		return 0, 0, errors.New("ber: negative length")
	}
	return length, 1 + numOctets, nil
}

// Integer interprets the element content as a two's-complement integer.
func (e Element) Integer() (int64, error) {
	if len(e.Raw) == 0 {
		return 0, errors.New("ber: empty integer")
	}
	if len(e.Raw) > 8 {
		return 0, fmt.Errorf("ber: integer of %d octets too large", len(e.Raw))
	}
	v := int64(0)
	if e.Raw[0]&0x80 != 0 {
		v = -1 // sign-extend
	}
	for _, b := range e.Raw {
		v = v<<8 | int64(b)
	}
	return v, nil
}

// Boolean interprets the element content as a BER boolean. Any non-zero
// octet is true, per X.690.
func (e Element) Boolean() (bool, error) {
	if len(e.Raw) != 1 {
		return false, fmt.Errorf("ber: boolean of %d octets", len(e.Raw))
	}
	return e.Raw[0] != 0, nil
}

// String interprets the element content as an octet string.
func (e Element) String() string {
	return string(e.Raw)
}

// isUniversal reports whether the element carries the given universal tag.
func (e Element) isUniversal(tag uint32) bool {
	return e.Class == ClassUniversal && e.Tag == tag
}
