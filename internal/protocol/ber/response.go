package ber

// Response encoders. Every response is a complete LDAPMessage ready to be
// written to the connection.

// Attribute is one attribute of a SearchResultEntry.
type Attribute struct {
	Name   string
	Values []string
}

// appendMessage wraps an encoded protocolOp (plus optional controls) into the
// LDAPMessage envelope.
func appendMessage(messageID int64, op []byte, controls []Control) []byte {
	var content []byte
	content = appendInteger(content, messageID)
	content = append(content, op...)
	if len(controls) > 0 {
		content = appendControls(content, controls)
	}
	return appendSequence(nil, content)
}

// appendResult encodes the LDAPResult body shared by all response PDUs.
func appendResult(dst []byte, code ResultCode, matchedDN, diagnostic string) []byte {
	dst = appendEnumerated(dst, int64(code))
	dst = appendOctetString(dst, matchedDN)
	return appendOctetString(dst, diagnostic)
}

// EncodeBindResponse builds a BindResponse message.
func EncodeBindResponse(messageID int64, code ResultCode, diagnostic string) []byte {
	body := appendResult(nil, code, "", diagnostic)
	op := appendTagged(nil, ClassApplication, true, TagBindResponse, body)
	return appendMessage(messageID, op, nil)
}

// EncodeSearchResultEntry builds a SearchResultEntry message. When typesOnly
// is requested the caller passes attributes with empty value slices; the
// encoding is the same either way (an empty SET).
func EncodeSearchResultEntry(messageID int64, dn string, attrs []Attribute) []byte {
	var body []byte
	body = appendOctetString(body, dn)

	var attrList []byte
	for _, attr := range attrs {
		var vals []byte
		for _, v := range attr.Values {
			vals = appendOctetString(vals, v)
		}
		var one []byte
		one = appendOctetString(one, attr.Name)
		one = appendTagged(one, ClassUniversal, true, TagSet, vals)
		attrList = appendSequence(attrList, one)
	}
	body = appendSequence(body, attrList)

	op := appendTagged(nil, ClassApplication, true, TagSearchResultEntry, body)
	return appendMessage(messageID, op, nil)
}

// EncodeSearchResultDone builds the terminating SearchResultDone message,
// optionally carrying response controls (paged results acknowledgement).
func EncodeSearchResultDone(messageID int64, code ResultCode, diagnostic string, controls []Control) []byte {
	body := appendResult(nil, code, "", diagnostic)
	op := appendTagged(nil, ClassApplication, true, TagSearchResultDone, body)
	return appendMessage(messageID, op, controls)
}

// EncodeGenericResult builds an LDAPResult under an arbitrary application
// tag. Used to answer unsupported request PDUs with protocolError on the
// conventional response tag (request tag + 1).
func EncodeGenericResult(messageID int64, appTag uint32, code ResultCode, diagnostic string) []byte {
	body := appendResult(nil, code, "", diagnostic)
	op := appendTagged(nil, ClassApplication, true, appTag, body)
	return appendMessage(messageID, op, nil)
}

// ResponseTagFor maps a request application tag to the tag its result should
// be sent under. Searches terminate with SearchResultDone; everything else in
// LDAP pairs request tag n with response tag n+1.
func ResponseTagFor(requestTag uint32) uint32 {
	if requestTag == TagSearchRequest {
		return TagSearchResultDone
	}
	return requestTag + 1
}

// EncodeBindRequest builds a BindRequest message. The server never sends
// one; this exists for the codec round-trip tests and protocol tooling.
func EncodeBindRequest(messageID int64, version int64, name, password string) []byte {
	var body []byte
	body = appendInteger(body, version)
	body = appendOctetString(body, name)
	body = appendTagged(body, ClassContext, false, 0, []byte(password))
	op := appendTagged(nil, ClassApplication, true, TagBindRequest, body)
	return appendMessage(messageID, op, nil)
}

// EncodeUnbindRequest builds an UnbindRequest message (test helper).
func EncodeUnbindRequest(messageID int64) []byte {
	op := appendTagged(nil, ClassApplication, false, TagUnbindRequest, nil)
	return appendMessage(messageID, op, nil)
}

// EncodeSearchRequest builds a SearchRequest message (test helper).
func EncodeSearchRequest(messageID int64, req SearchRequest, controls []Control) ([]byte, error) {
	var body []byte
	body = appendOctetString(body, req.BaseObject)
	body = appendEnumerated(body, int64(req.Scope))
	body = appendEnumerated(body, int64(req.DerefAliases))
	body = appendInteger(body, req.SizeLimit)
	body = appendInteger(body, req.TimeLimit)
	body = appendBoolean(body, req.TypesOnly)

	var err error
	body, err = appendFilter(body, req.Filter)
	if err != nil {
		return nil, err
	}

	var attrs []byte
	for _, a := range req.Attributes {
		attrs = appendOctetString(attrs, a)
	}
	body = appendSequence(body, attrs)

	op := appendTagged(nil, ClassApplication, true, TagSearchRequest, body)
	return appendMessage(messageID, op, controls), nil
}
