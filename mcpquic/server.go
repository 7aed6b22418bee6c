package mcpquic

import (
	"context"
	"crypto/tls"
	"fmt"
	"io"
	"log/slog"
	"net"
	"sync"

	"github.com/modelcontextprotocol/go-sdk/mcp"
	"github.com/quic-go/quic-go"

	"github.com/hazyhaar/reelscan/idgen"
	"github.com/hazyhaar/reelscan/kit"
)

// DefaultMaxSessions caps concurrent MCP sessions per Server.
const DefaultMaxSessions = 8

// Server accepts MCP-over-QUIC connections. Each connection carries one
// MCP session on its first bidirectional stream.
type Server struct {
	mcp      *mcp.Server
	ql       *quic.Listener
	logger   *slog.Logger
	newID    idgen.Generator
	slots    chan struct{}
	sessions sync.WaitGroup
}

// Option configures a Server.
type Option func(*Server)

// WithSessionIDs sets the session ID generator. Default idgen.QUIC.
func WithSessionIDs(gen idgen.Generator) Option {
	return func(s *Server) { s.newID = gen }
}

// WithMaxSessions caps concurrent sessions. Connections above the cap are
// closed right after the handshake.
func WithMaxSessions(n int) Option {
	return func(s *Server) { s.slots = make(chan struct{}, n) }
}

// Listen binds addr (UDP) and returns a Server for srv. Call Serve to
// start accepting.
func Listen(addr string, tlsCfg *tls.Config, srv *mcp.Server, logger *slog.Logger, opts ...Option) (*Server, error) {
	if logger == nil {
		logger = slog.Default()
	}
	s := &Server{
		mcp:    srv,
		logger: logger,
		newID:  idgen.QUIC,
		slots:  make(chan struct{}, DefaultMaxSessions),
	}
	for _, o := range opts {
		o(s)
	}
	ql, err := quic.ListenAddr(addr, tlsCfg, ProductionQUICConfig())
	if err != nil {
		return nil, fmt.Errorf("mcpquic: listen %s: %w", addr, err)
	}
	s.ql = ql
	logger.Info("mcpquic: listening", "addr", ql.Addr().String())
	return s, nil
}

// Addr is the bound UDP address.
func (s *Server) Addr() net.Addr { return s.ql.Addr() }

// Serve accepts connections until ctx is done or the Server is closed,
// then waits for open sessions to finish.
func (s *Server) Serve(ctx context.Context) error {
	defer s.sessions.Wait()
	for {
		conn, err := s.ql.Accept(ctx)
		if err != nil {
			if ctx.Err() != nil {
				return ctx.Err()
			}
			return fmt.Errorf("mcpquic: accept: %w", err)
		}
		if alpn := conn.ConnectionState().TLS.NegotiatedProtocol; alpn != ALPNProtocolMCP {
			conn.CloseWithError(ConnErrorUnsupportedALPN, "unsupported alpn "+alpn)
			continue
		}
		select {
		case s.slots <- struct{}{}:
		default:
			s.logger.Warn("mcpquic: session limit reached", "remote", conn.RemoteAddr().String())
			conn.CloseWithError(ConnErrorNoError, "busy")
			continue
		}
		s.sessions.Add(1)
		go func() {
			defer func() {
				<-s.slots
				s.sessions.Done()
			}()
			s.serveConn(ctx, conn)
		}()
	}
}

// Close stops accepting. Open sessions end with their connections.
func (s *Server) Close() error { return s.ql.Close() }

func (s *Server) serveConn(ctx context.Context, conn *quic.Conn) {
	remote := conn.RemoteAddr().String()
	stream, err := conn.AcceptStream(ctx)
	if err != nil {
		s.logger.Warn("mcpquic: no session stream", "remote", remote, "error", err)
		conn.CloseWithError(ConnErrorProtocolViolation, "no stream")
		return
	}
	if err := ValidateMagicBytes(stream); err != nil {
		s.logger.Warn("mcpquic: bad preamble", "remote", remote, "error", err)
		stream.CancelRead(StreamErrorProtocolConfusion)
		stream.CancelWrite(StreamErrorProtocolConfusion)
		conn.CloseWithError(ConnErrorProtocolViolation, "invalid magic bytes")
		return
	}

	id := s.newID()
	log := s.logger.With("session", id, "remote", remote)
	ctx = kit.WithRequestID(kit.WithTransport(ctx, kit.TransportMCPQUIC), id)

	ss, err := s.mcp.Connect(ctx, &streamTransport{stream: stream, id: id}, nil)
	if err != nil {
		log.Error("mcpquic: mcp connect", "error", err)
		conn.CloseWithError(ConnErrorProtocolViolation, "mcp connect failed")
		return
	}
	log.Info("mcpquic: session open")
	if err := ss.Wait(); err != nil {
		log.Debug("mcpquic: session closed", "error", err)
	}
	conn.CloseWithError(ConnErrorNoError, "session ended")
	log.Info("mcpquic: session ended")
}

// streamTransport is an mcp.Transport over one accepted QUIC stream.
// Closing the writer half-closes the stream; the read side ends with the
// connection.
type streamTransport struct {
	stream *quic.Stream
	id     string
}

func (t *streamTransport) Connect(ctx context.Context) (mcp.Connection, error) {
	conn, err := (&mcp.IOTransport{
		Reader: io.NopCloser(t.stream),
		Writer: t.stream,
	}).Connect(ctx)
	if err != nil {
		return nil, err
	}
	return idConn{Connection: conn, id: t.id}, nil
}

// idConn reports the QUIC session ID in place of the empty ID of an
// IOTransport connection.
type idConn struct {
	mcp.Connection
	id string
}

func (c idConn) SessionID() string { return c.id }
