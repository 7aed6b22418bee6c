package mcpquic

import (
	"context"
	"crypto/tls"
	"fmt"
	"io"
	"time"

	"github.com/modelcontextprotocol/go-sdk/mcp"
	"github.com/quic-go/quic-go"
)

// handshakeTimeout bounds the MCP initialize exchange after the QUIC
// handshake succeeded.
const handshakeTimeout = 10 * time.Second

// Client is an MCP client session carried by one QUIC stream.
type Client struct {
	*mcp.ClientSession
	conn *quic.Conn
}

// Dial connects to addr, checks the negotiated ALPN, opens the session
// stream, sends the magic bytes and runs the MCP handshake. A nil tlsCfg
// verifies the server certificate.
func Dial(ctx context.Context, addr string, tlsCfg *tls.Config) (*Client, error) {
	if tlsCfg == nil {
		tlsCfg = ClientTLSConfig(false)
	}
	conn, err := quic.DialAddr(ctx, addr, tlsCfg, ProductionQUICConfig())
	if err != nil {
		return nil, fmt.Errorf("mcpquic: dial %s: %w", addr, err)
	}
	fail := func(code quic.ApplicationErrorCode, msg string, err error) (*Client, error) {
		conn.CloseWithError(code, msg)
		return nil, err
	}
	if alpn := conn.ConnectionState().TLS.NegotiatedProtocol; alpn != ALPNProtocolMCP {
		return fail(ConnErrorUnsupportedALPN, "unsupported alpn", fmt.Errorf("%w: %q", ErrUnsupportedALPN, alpn))
	}
	stream, err := conn.OpenStreamSync(ctx)
	if err != nil {
		return fail(ConnErrorProtocolViolation, "open stream", &ConnectionError{RemoteAddr: addr, Code: ConnErrorProtocolViolation, Err: err})
	}
	if err := SendMagicBytes(stream); err != nil {
		return fail(ConnErrorProtocolViolation, "magic bytes", err)
	}

	hctx, cancel := context.WithTimeout(ctx, handshakeTimeout)
	defer cancel()
	impl := &mcp.Implementation{Name: "reelscan-call", Version: "1.0.0"}
	session, err := mcp.NewClient(impl, nil).Connect(hctx, &mcp.IOTransport{
		Reader: io.NopCloser(stream),
		Writer: stream,
	}, nil)
	if err != nil {
		return fail(ConnErrorNoError, "handshake failed", fmt.Errorf("mcpquic: mcp handshake with %s: %w", addr, err))
	}
	return &Client{ClientSession: session, conn: conn}, nil
}

// Call invokes tool with args and returns its text content. A tool error
// (IsError) is returned as an error carrying that text.
func (c *Client) Call(ctx context.Context, tool string, args any) (string, error) {
	res, err := c.CallTool(ctx, &mcp.CallToolParams{Name: tool, Arguments: args})
	if err != nil {
		return "", fmt.Errorf("mcpquic: call %s: %w", tool, err)
	}
	var text string
	for _, content := range res.Content {
		if t, ok := content.(*mcp.TextContent); ok {
			text += t.Text
		}
	}
	if res.IsError {
		return text, fmt.Errorf("mcpquic: %s failed: %s", tool, text)
	}
	return text, nil
}

// Close ends the MCP session and the QUIC connection.
func (c *Client) Close() error {
	c.ClientSession.Close()
	return c.conn.CloseWithError(ConnErrorNoError, "client closing")
}
