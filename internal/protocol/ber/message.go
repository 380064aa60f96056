package ber

import (
	"errors"
	"fmt"
)

// BindRequest is a decoded simple or SASL BindRequest. Only simple
// authentication is served; SASL is decoded far enough to be rejected with
// authMethodNotSupported.
type BindRequest struct {
	Version  int64
	Name     string
	Password string
	SASL     bool
	SASLMech string
}

// UnbindRequest is the (empty) UnbindRequest PDU.
type UnbindRequest struct{}

// SearchRequest is a decoded SearchRequest PDU.
type SearchRequest struct {
	BaseObject   string
	Scope        int
	DerefAliases int
	SizeLimit    int64
	TimeLimit    int64
	TypesOnly    bool
	Filter       Filter
	Attributes   []string
}

// UnknownRequest stands in for any protocolOp the server does not implement.
// It keeps the application tag so the response can be addressed back under
// the conventional response tag.
type UnknownRequest struct {
	Tag uint32
}

// Message is a decoded LDAPMessage envelope.
type Message struct {
	ID       int64
	Op       any // *BindRequest, *UnbindRequest, *SearchRequest or *UnknownRequest
	Controls []Control
}

// DecodeMessage decodes one LDAPMessage from the start of buf.
//
// Returns the message and the number of bytes consumed. ErrIncompleteMessage
// means the buffer holds only a prefix of the next message; read more and
// retry. Any other error is unrecoverable for the connection, but if the
// message ID could be parsed it is reported alongside so the peer can be
// answered on the offending ID before the connection closes.
func DecodeMessage(buf []byte) (*Message, int, error) {
	envelope, n, err := DecodeElement(buf)
	if err != nil {
		return nil, 0, err
	}
	if !envelope.isUniversal(TagSequence) || len(envelope.Children) < 2 {
		return nil, 0, errors.New("ber: LDAPMessage is not a sequence of at least two elements")
	}

	msg := &Message{}
	msg.ID, err = envelope.Children[0].Integer()
	if err != nil {
		return nil, 0, fmt.Errorf("ber: message id: %w", err)
	}
	if msg.ID < 0 {
		return msg, 0, errors.New("ber: negative message id")
	}

	op := envelope.Children[1]
	if op.Class != ClassApplication {
		return msg, 0, fmt.Errorf("ber: protocolOp has class %d, want application", op.Class)
	}

	switch op.Tag {
	case TagBindRequest:
		msg.Op, err = decodeBindRequest(op)
	case TagUnbindRequest:
		msg.Op = &UnbindRequest{}
	case TagSearchRequest:
		msg.Op, err = decodeSearchRequest(op)
	default:
		msg.Op = &UnknownRequest{Tag: op.Tag}
	}
	if err != nil {
		return msg, 0, err
	}

	// Optional trailing controls: [0] SEQUENCE OF Control.
	for _, extra := range envelope.Children[2:] {
		if extra.Class == ClassContext && extra.Tag == tagControls && extra.Constructed {
			msg.Controls, err = decodeControls(extra)
			if err != nil {
				return msg, 0, err
			}
		}
	}

	return msg, n, nil
}

// decodeBindRequest parses a BindRequest protocolOp.
//
// The AuthenticationChoice is [0] simple or [3] sasl in context class, but
// some stacks emit it with application class; both are tolerated. Anything
// else is treated as a mis-tagged simple password and its raw content octets
// are taken as the password text.
func decodeBindRequest(op Element) (*BindRequest, error) {
	if len(op.Children) != 3 {
		return nil, fmt.Errorf("ber: BindRequest with %d fields", len(op.Children))
	}
	req := &BindRequest{}

	var err error
	req.Version, err = op.Children[0].Integer()
	if err != nil {
		return nil, fmt.Errorf("ber: bind version: %w", err)
	}
	req.Name = op.Children[1].String()

	auth := op.Children[2]
	lenientClass := auth.Class == ClassContext || auth.Class == ClassApplication
	switch {
	case lenientClass && auth.Tag == 0:
		req.Password = auth.String()
	case lenientClass && auth.Tag == 3:
		req.SASL = true
		if auth.Constructed && len(auth.Children) > 0 {
			req.SASLMech = auth.Children[0].String()
		}
	default:
		req.Password = auth.String()
	}
	return req, nil
}

// decodeSearchRequest parses a SearchRequest protocolOp.
func decodeSearchRequest(op Element) (*SearchRequest, error) {
	if len(op.Children) != 8 {
		return nil, fmt.Errorf("ber: SearchRequest with %d fields", len(op.Children))
	}
	req := &SearchRequest{}
	req.BaseObject = op.Children[0].String()

	scope, err := op.Children[1].Integer()
	if err != nil {
		return nil, fmt.Errorf("ber: search scope: %w", err)
	}
	req.Scope = int(scope)

	deref, err := op.Children[2].Integer()
	if err != nil {
		return nil, fmt.Errorf("ber: derefAliases: %w", err)
	}
	req.DerefAliases = int(deref)

	if req.SizeLimit, err = op.Children[3].Integer(); err != nil {
		return nil, fmt.Errorf("ber: sizeLimit: %w", err)
	}
	if req.TimeLimit, err = op.Children[4].Integer(); err != nil {
		return nil, fmt.Errorf("ber: timeLimit: %w", err)
	}
	if req.TypesOnly, err = op.Children[5].Boolean(); err != nil {
		return nil, fmt.Errorf("ber: typesOnly: %w", err)
	}
	if req.Filter, err = decodeFilter(op.Children[6]); err != nil {
		return nil, err
	}

	attrs := op.Children[7]
	if !attrs.Constructed {
		return nil, errors.New("ber: attribute list is not constructed")
	}
	for _, attr := range attrs.Children {
		req.Attributes = append(req.Attributes, attr.String())
	}
	return req, nil
}
