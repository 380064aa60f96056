package ber

// Encoding helpers. All encoders append to a caller-provided slice and return
// the extended slice, so PDU encoders can assemble nested structures without
// intermediate buffers for every level.

// appendHeader appends the identifier and definite-length octets.
func appendHeader(dst []byte, class Class, constructed bool, tag uint32, length int) []byte {
	id := byte(class)<<6 | byte(tag)
	if constructed {
		id |= 0x20
	}
	dst = append(dst, id)

	switch {
	case length < 0x80:
		dst = append(dst, byte(length))
	case length <= 0xFF:
		dst = append(dst, 0x81, byte(length))
	case length <= 0xFFFF:
		dst = append(dst, 0x82, byte(length>>8), byte(length))
	case length <= 0xFFFFFF:
		dst = append(dst, 0x83, byte(length>>16), byte(length>>8), byte(length))
	default:
		dst = append(dst, 0x84, byte(length>>24), byte(length>>16), byte(length>>8), byte(length))
	}
	return dst
}

// appendTagged appends a complete element with the given content.
func appendTagged(dst []byte, class Class, constructed bool, tag uint32, content []byte) []byte {
	dst = appendHeader(dst, class, constructed, tag, len(content))
	return append(dst, content...)
}

// appendOctetString appends a universal OCTET STRING.
func appendOctetString(dst []byte, s string) []byte {
	dst = appendHeader(dst, ClassUniversal, false, TagOctetString, len(s))
	return append(dst, s...)
}

// appendBoolean appends a universal BOOLEAN (0xFF for true, per DER).
func appendBoolean(dst []byte, v bool) []byte {
	b := byte(0x00)
	if v {
		b = 0xFF
	}
	return append(dst, byte(TagBoolean), 0x01, b)
}

// appendInt appends a universal INTEGER or ENUMERATED in minimal
// two's-complement form.
func appendInt(dst []byte, tag uint32, v int64) []byte {
	content := minimalInt(v)
	dst = appendHeader(dst, ClassUniversal, false, tag, len(content))
	return append(dst, content...)
}

// appendInteger appends a universal INTEGER.
func appendInteger(dst []byte, v int64) []byte {
	return appendInt(dst, TagInteger, v)
}

// appendEnumerated appends a universal ENUMERATED.
func appendEnumerated(dst []byte, v int64) []byte {
	return appendInt(dst, TagEnumerated, v)
}

// appendSequence appends a universal SEQUENCE wrapping the given content.
func appendSequence(dst []byte, content []byte) []byte {
	return appendTagged(dst, ClassUniversal, true, TagSequence, content)
}

// minimalInt returns the shortest two's-complement encoding of v.
func minimalInt(v int64) []byte {
	out := make([]byte, 8)
	for i := 7; i >= 0; i-- {
		out[i] = byte(v)
		v >>= 8
	}
	// Strip redundant leading octets: 0x00 before a clear sign bit,
	// 0xFF before a set sign bit.
	i := 0
	for i < 7 {
		if out[i] == 0x00 && out[i+1]&0x80 == 0 {
			i++
			continue
		}
		if out[i] == 0xFF && out[i+1]&0x80 != 0 {
			i++
			continue
		}
		break
	}
	return out[i:]
}
