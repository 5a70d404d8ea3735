// Package mcp exposes tools from Model Context Protocol servers as a
// tools.ToolClient. Servers are connected lazily and reconnected after a
// transport failure.
package mcp

import (
	"context"
	"encoding/base64"
	"encoding/json"
	"errors"
	"fmt"
	"net/url"
	"os/exec"
	"strings"
	"sync"

	mcpsdk "github.com/modelcontextprotocol/go-sdk/mcp"

	"github.com/roelfdiedericks/chatreply/internal/config"
	. "github.com/roelfdiedericks/chatreply/internal/logging"
	"github.com/roelfdiedericks/chatreply/internal/metrics"
	"github.com/roelfdiedericks/chatreply/internal/types"
)

// TransportFunc builds a fresh transport for each connection attempt.
type TransportFunc func(ctx context.Context) (mcpsdk.Transport, error)

// Client talks to a fixed set of MCP servers.
type Client struct {
	impl    *mcpsdk.Client
	servers []*server
}

type server struct {
	id        string
	transport TransportFunc

	mu      sync.Mutex
	session *mcpsdk.ClientSession
}

// New validates the server configs and returns an unconnected client.
func New(cfgs []config.MCPServerConfig, version string) (*Client, error) {
	c := newClient(version)
	seen := make(map[string]bool)
	for _, sc := range cfgs {
		if sc.ID == "" {
			return nil, errors.New("mcp: server id is required")
		}
		if seen[sc.ID] {
			return nil, fmt.Errorf("mcp: duplicate server id %q", sc.ID)
		}
		seen[sc.ID] = true
		tf, err := transportFor(sc)
		if err != nil {
			return nil, fmt.Errorf("mcp: server %q: %w", sc.ID, err)
		}
		c.AddServer(sc.ID, tf)
	}
	return c, nil
}

func newClient(version string) *Client {
	if version == "" {
		version = "dev"
	}
	return &Client{impl: mcpsdk.NewClient(&mcpsdk.Implementation{Name: "chatreply", Version: version}, nil)}
}

// AddServer registers a server under id.
func (c *Client) AddServer(id string, tf TransportFunc) {
	c.servers = append(c.servers, &server{id: id, transport: tf})
}

// Len returns the number of configured servers.
func (c *Client) Len() int {
	return len(c.servers)
}

func transportFor(sc config.MCPServerConfig) (TransportFunc, error) {
	switch {
	case sc.Command != "" && sc.URL != "":
		return nil, errors.New("set either command or url, not both")
	case sc.Command != "":
		name, args := sc.Command, sc.Args
		return func(ctx context.Context) (mcpsdk.Transport, error) {
			// the process outlives the request that first connects it
			cmd := exec.CommandContext(context.Background(), name, args...)
			return &mcpsdk.CommandTransport{Command: cmd}, nil
		}, nil
	case sc.URL != "":
		u, err := url.Parse(sc.URL)
		if err != nil || (u.Scheme != "http" && u.Scheme != "https") || u.Host == "" {
			return nil, fmt.Errorf("invalid url %q", sc.URL)
		}
		endpoint := u.String()
		switch strings.ToLower(sc.Transport) {
		case "sse":
			return func(ctx context.Context) (mcpsdk.Transport, error) {
				return &mcpsdk.SSEClientTransport{Endpoint: endpoint}, nil
			}, nil
		case "", "http", "streamable":
			return func(ctx context.Context) (mcpsdk.Transport, error) {
				return &mcpsdk.StreamableClientTransport{Endpoint: endpoint}, nil
			}, nil
		default:
			return nil, fmt.Errorf("unsupported transport %q", sc.Transport)
		}
	default:
		return nil, errors.New("command or url is required")
	}
}

func (c *Client) connect(ctx context.Context, s *server) (*mcpsdk.ClientSession, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.session != nil {
		return s.session, nil
	}
	t, err := s.transport(ctx)
	if err != nil {
		return nil, fmt.Errorf("build transport: %w", err)
	}
	session, err := c.impl.Connect(ctx, t, nil)
	if err != nil {
		metrics.MetricFailWithReason("mcp", "connect", s.id)
		return nil, err
	}
	L_info("mcp: connected", "server", s.id)
	s.session = session
	return session, nil
}

// drop closes a session after a transport error so the next use reconnects.
func (s *server) drop(session *mcpsdk.ClientSession) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.session == session {
		_ = session.Close()
		s.session = nil
	}
}

// ListTools lists every server's tools. Unreachable servers are skipped; an
// error is returned only when all of them fail.
func (c *Client) ListTools(ctx context.Context) ([]types.ToolDescriptor, error) {
	var out []types.ToolDescriptor
	var errs []error
	for _, s := range c.servers {
		list, err := c.listServer(ctx, s)
		if err != nil {
			L_warn("mcp: list tools failed", "server", s.id, "error", err)
			errs = append(errs, fmt.Errorf("%s: %w", s.id, err))
			continue
		}
		out = append(out, list...)
	}
	if len(errs) > 0 && len(errs) == len(c.servers) {
		return nil, errors.Join(errs...)
	}
	return out, nil
}

func (c *Client) listServer(ctx context.Context, s *server) ([]types.ToolDescriptor, error) {
	session, err := c.connect(ctx, s)
	if err != nil {
		return nil, err
	}
	var out []types.ToolDescriptor
	for tool, err := range session.Tools(ctx, nil) {
		if err != nil {
			s.drop(session)
			return nil, err
		}
		out = append(out, toDescriptor(s.id, tool))
	}
	return out, nil
}

// CallTool calls call.Name on the server with id call.ServerID.
func (c *Client) CallTool(ctx context.Context, call types.ToolCall) (*types.ToolResponse, error) {
	var s *server
	for _, candidate := range c.servers {
		if candidate.id == call.ServerID {
			s = candidate
			break
		}
	}
	if s == nil {
		return nil, fmt.Errorf("mcp: unknown server %q", call.ServerID)
	}

	session, err := c.connect(ctx, s)
	if err != nil {
		return nil, err
	}
	stop := metrics.MetricTimer("mcp", "call")
	res, err := session.CallTool(ctx, &mcpsdk.CallToolParams{Name: call.Name, Arguments: call.Arguments})
	stop()
	if err != nil {
		if ctx.Err() == nil {
			s.drop(session)
		}
		return nil, err
	}
	return toResponse(res), nil
}

// Close disconnects every server.
func (c *Client) Close() error {
	var errs []error
	for _, s := range c.servers {
		s.mu.Lock()
		if s.session != nil {
			errs = append(errs, s.session.Close())
			s.session = nil
		}
		s.mu.Unlock()
	}
	return errors.Join(errs...)
}

func toDescriptor(serverID string, tool *mcpsdk.Tool) types.ToolDescriptor {
	d := types.ToolDescriptor{Name: tool.Name, ServerID: serverID, Description: tool.Description}
	if tool.InputSchema != nil {
		if raw, err := json.Marshal(tool.InputSchema); err == nil {
			var schema map[string]any
			if json.Unmarshal(raw, &schema) == nil {
				d.InputSchema = schema
			}
		}
	}
	return d
}

func toResponse(res *mcpsdk.CallToolResult) *types.ToolResponse {
	out := &types.ToolResponse{}
	if res == nil {
		return out
	}
	out.IsError = res.IsError
	for _, content := range res.Content {
		switch c := content.(type) {
		case *mcpsdk.TextContent:
			out.Content = append(out.Content, types.ToolContent{Type: "text", Text: c.Text})
		case *mcpsdk.ImageContent:
			out.Content = append(out.Content, types.ToolContent{
				Type:     "image",
				Data:     base64.StdEncoding.EncodeToString(c.Data),
				MimeType: c.MIMEType,
			})
		default:
			raw, err := json.Marshal(c)
			if err != nil {
				continue
			}
			out.Content = append(out.Content, types.ToolContent{Type: "resource", Text: string(raw)})
		}
	}
	return out
}
