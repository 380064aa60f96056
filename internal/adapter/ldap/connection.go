package ldap

import (
	"context"
	"crypto/subtle"
	"errors"
	"io"
	"net"
	"time"

	"github.com/ldaptoid/ldaptoid/internal/directory"
	"github.com/ldaptoid/ldaptoid/internal/logger"
	"github.com/ldaptoid/ldaptoid/internal/protocol/ber"
)

// connState is the per-connection authentication state.
type connState int

const (
	stateUnauthenticated connState = iota
	stateBound
	stateClosing
)

// extendedResponseTag addresses a decode failure back to the peer when the
// offending protocolOp is unknown (notice-of-disconnection shape).
const extendedResponseTag = 24

const readChunk = 4096

// connection runs the LDAP state machine for one TCP client. Requests are
// handled strictly in arrival order, so pipelined clients get their responses
// in request order.
type connection struct {
	adapter *Adapter
	conn    net.Conn
	remote  string

	state   connState
	boundDN string
}

func (a *Adapter) newConnection(tcpConn net.Conn) *connection {
	return &connection{
		adapter: a,
		conn:    tcpConn,
		remote:  tcpConn.RemoteAddr().String(),
	}
}

func (c *connection) serve(ctx context.Context) {
	defer c.conn.Close()

	buf := make([]byte, 0, readChunk)
	chunk := make([]byte, readChunk)

	for c.state != stateClosing {
		// Drain every complete message already buffered before reading.
		for c.state != stateClosing {
			msg, n, err := ber.DecodeMessage(buf)
			if errors.Is(err, ber.ErrIncompleteMessage) {
				break
			}
			if err != nil {
				logger.Debug("closing connection on decode error", "address", c.remote, "error", err)
				if msg != nil {
					c.write(ber.EncodeGenericResult(msg.ID, extendedResponseTag, ber.ResultProtocolError, "malformed request"))
				}
				return
			}
			buf = buf[n:]
			if !c.handle(ctx, msg) {
				return
			}
		}

		select {
		case <-ctx.Done():
			return
		default:
		}

		_ = c.conn.SetReadDeadline(time.Now().Add(c.adapter.cfg.IdleTimeout))
		n, err := c.conn.Read(chunk)
		if n > 0 {
			buf = append(buf, chunk[:n]...)
		}
		if err != nil {
			if !errors.Is(err, io.EOF) {
				logger.Debug("connection read ended", "address", c.remote, "error", err)
			}
			return
		}
	}
}

// handle dispatches one decoded message. Returns false when the connection
// must close.
func (c *connection) handle(ctx context.Context, msg *ber.Message) bool {
	// Unrecognized critical controls are refused regardless of operation.
	if oid, ok := criticalUnknownControl(msg.Controls); ok {
		return c.refuseCriticalControl(msg, oid)
	}

	switch op := msg.Op.(type) {
	case *ber.BindRequest:
		code := c.bind(op)
		c.record("bind", code)
		return c.write(ber.EncodeBindResponse(msg.ID, code, ""))

	case *ber.UnbindRequest:
		c.record("unbind", ber.ResultSuccess)
		c.state = stateClosing
		return false

	case *ber.SearchRequest:
		if !c.searchAllowed() {
			c.record("search", ber.ResultInsufficientAccessRights)
			return c.write(ber.EncodeSearchResultDone(msg.ID, ber.ResultInsufficientAccessRights, "bind required", nil))
		}
		code := c.search(ctx, msg, op)
		c.record("search", code)
		return c.state != stateClosing

	case *ber.UnknownRequest:
		c.record("unsupported", ber.ResultProtocolError)
		return c.write(ber.EncodeGenericResult(msg.ID, ber.ResponseTagFor(op.Tag), ber.ResultProtocolError, "operation not supported by this read-only server"))

	default:
		return false
	}
}

// bind implements the authentication table: anonymous, service account or
// SASL rejection. Every failure against the service account is
// invalidCredentials, never anything more specific.
func (c *connection) bind(req *ber.BindRequest) ber.ResultCode {
	if req.SASL {
		return ber.ResultAuthMethodNotSupported
	}

	cfg := c.adapter.cfg
	if req.Name == "" && req.Password == "" {
		if cfg.BindDN != "" && !cfg.AllowAnonymousBind {
			return ber.ResultInsufficientAccessRights
		}
		c.state = stateBound
		c.boundDN = ""
		return ber.ResultSuccess
	}

	if cfg.BindDN == "" {
		return ber.ResultInvalidCredentials
	}
	dnOK := directory.EqualDN(req.Name, cfg.BindDN)
	pwOK := subtle.ConstantTimeCompare([]byte(req.Password), []byte(cfg.BindPassword)) == 1
	if !dnOK || !pwOK {
		return ber.ResultInvalidCredentials
	}
	c.state = stateBound
	c.boundDN = cfg.BindDN
	return ber.ResultSuccess
}

// searchAllowed implements the authorization rule: an unauthenticated client
// may search only when no service account is configured or anonymous binds
// are allowed.
func (c *connection) searchAllowed() bool {
	if c.state == stateBound {
		return true
	}
	cfg := c.adapter.cfg
	return cfg.BindDN == "" || cfg.AllowAnonymousBind
}

// refuseCriticalControl answers with unavailableCriticalExtension in the shape
// the operation expects. Unbind has no response PDU; the connection closes.
func (c *connection) refuseCriticalControl(msg *ber.Message, oid string) bool {
	const code = ber.ResultUnavailableCriticalExtension
	diagnostic := "unsupported critical control " + oid

	switch op := msg.Op.(type) {
	case *ber.BindRequest:
		c.record("bind", code)
		return c.write(ber.EncodeBindResponse(msg.ID, code, diagnostic))
	case *ber.SearchRequest:
		c.record("search", code)
		return c.write(ber.EncodeSearchResultDone(msg.ID, code, diagnostic, nil))
	case *ber.UnknownRequest:
		c.record("unsupported", code)
		return c.write(ber.EncodeGenericResult(msg.ID, ber.ResponseTagFor(op.Tag), code, diagnostic))
	default:
		c.state = stateClosing
		return false
	}
}

func criticalUnknownControl(controls []ber.Control) (string, bool) {
	for _, ctrl := range controls {
		if ctrl.OID == ber.OIDPagedResults {
			continue
		}
		if ctrl.Criticality {
			return ctrl.OID, true
		}
	}
	return "", false
}

// write sends one encoded PDU; a failed write closes the connection.
func (c *connection) write(pdu []byte) bool {
	if _, err := c.conn.Write(pdu); err != nil {
		logger.Debug("write failed", "address", c.remote, "error", err)
		c.state = stateClosing
		return false
	}
	return true
}

func (c *connection) record(op string, code ber.ResultCode) {
	if c.adapter.metrics != nil {
		c.adapter.metrics.RecordRequest(op, code.String())
	}
}
