// Package mcpproxy serves the guest's forwarded tools/call and
// resources/read requests against an external MCP server, using the official
// client SDK. It satisfies host.ServerProxy, so wiring it in is one option
// on the host bridge.
package mcpproxy

import (
	"context"
	"encoding/base64"
	"encoding/json"
	"fmt"
	"log/slog"

	"github.com/joeshaw/envdecode"
	"github.com/modelcontextprotocol/go-sdk/mcp"

	"github.com/uibridge/uibridge-go/host"
	"github.com/uibridge/uibridge-go/ui"
)

// Config locates the MCP server. Populate via envdecode or literals.
type Config struct {
	// Endpoint of the streamable HTTP MCP server. ENV: MCP_SERVER_URL
	Endpoint string `env:"MCP_SERVER_URL,required"`
}

// ConfigFromEnv loads Config from the environment.
func ConfigFromEnv() (Config, error) {
	var cfg Config
	if err := envdecode.Decode(&cfg); err != nil {
		return Config{}, fmt.Errorf("decode mcpproxy config: %w", err)
	}
	return cfg, nil
}

// Proxy forwards bridge requests over one MCP client session.
type Proxy struct {
	session *mcp.ClientSession
	log     *slog.Logger
}

var _ host.ServerProxy = (*Proxy)(nil)

// Option configures a Proxy.
type Option func(*Proxy)

// WithLogger sets the logger. Defaults to slog.Default.
func WithLogger(log *slog.Logger) Option {
	return func(p *Proxy) { p.log = log }
}

// Connect dials the MCP server over streamable HTTP and runs the MCP
// handshake.
func Connect(ctx context.Context, cfg Config, opts ...Option) (*Proxy, error) {
	client := mcp.NewClient(&mcp.Implementation{
		Name:    "uibridge-host",
		Version: "1.0.0",
	}, &mcp.ClientOptions{})
	session, err := client.Connect(ctx, &mcp.StreamableClientTransport{
		Endpoint: cfg.Endpoint,
	}, &mcp.ClientSessionOptions{})
	if err != nil {
		return nil, fmt.Errorf("connect mcp server: %w", err)
	}
	return NewWithSession(session, opts...), nil
}

// NewWithSession wraps an established client session. Useful with in-memory
// transports in tests.
func NewWithSession(session *mcp.ClientSession, opts ...Option) *Proxy {
	p := &Proxy{session: session, log: slog.Default()}
	for _, opt := range opts {
		opt(p)
	}
	return p
}

// Close terminates the client session.
func (p *Proxy) Close() error { return p.session.Close() }

// CallTool implements host.ServerProxy.
func (p *Proxy) CallTool(ctx context.Context, name string, args json.RawMessage) (*ui.ToolCallResult, error) {
	var arguments map[string]any
	if len(args) > 0 {
		if err := json.Unmarshal(args, &arguments); err != nil {
			return nil, fmt.Errorf("tool %q arguments: %w", name, err)
		}
	}

	res, err := p.session.CallTool(ctx, &mcp.CallToolParams{Name: name, Arguments: arguments})
	if err != nil {
		return nil, fmt.Errorf("call tool %q: %w", name, err)
	}

	out := &ui.ToolCallResult{IsError: res.IsError}
	for _, c := range res.Content {
		block, ok := toContentBlock(c)
		if !ok {
			p.log.WarnContext(ctx, "dropping unmapped content block", slog.String("tool", name))
			continue
		}
		out.Content = append(out.Content, block)
	}
	if res.StructuredContent != nil {
		raw, err := json.Marshal(res.StructuredContent)
		if err != nil {
			return nil, fmt.Errorf("tool %q structured content: %w", name, err)
		}
		out.StructuredContent = raw
	}
	return out, nil
}

// ReadResource implements host.ServerProxy.
func (p *Proxy) ReadResource(ctx context.Context, uri string) (*ui.ResourcesReadResult, error) {
	res, err := p.session.ReadResource(ctx, &mcp.ReadResourceParams{URI: uri})
	if err != nil {
		return nil, fmt.Errorf("read resource %q: %w", uri, err)
	}

	out := &ui.ResourcesReadResult{}
	for _, c := range res.Contents {
		if c == nil {
			continue
		}
		out.Contents = append(out.Contents, toResourceContents(c))
	}
	return out, nil
}

func toContentBlock(c mcp.Content) (ui.ContentBlock, bool) {
	switch v := c.(type) {
	case *mcp.TextContent:
		return ui.TextBlock(v.Text), true
	case *mcp.ImageContent:
		return ui.ContentBlock{
			Type:     "image",
			Data:     base64.StdEncoding.EncodeToString(v.Data),
			MimeType: v.MIMEType,
		}, true
	case *mcp.AudioContent:
		return ui.ContentBlock{
			Type:     "audio",
			Data:     base64.StdEncoding.EncodeToString(v.Data),
			MimeType: v.MIMEType,
		}, true
	case *mcp.EmbeddedResource:
		block := ui.ContentBlock{Type: "resource"}
		if v.Resource != nil {
			rc := toResourceContents(v.Resource)
			block.Resource = &rc
		}
		return block, true
	case *mcp.ResourceLink:
		return ui.ContentBlock{
			Type:        "resource_link",
			URI:         v.URI,
			Name:        v.Name,
			Description: v.Description,
			MimeType:    v.MIMEType,
		}, true
	default:
		return ui.ContentBlock{}, false
	}
}

func toResourceContents(rc *mcp.ResourceContents) ui.ResourceContents {
	out := ui.ResourceContents{
		URI:      rc.URI,
		MimeType: rc.MIMEType,
		Text:     rc.Text,
	}
	if len(rc.Blob) > 0 {
		out.Blob = base64.StdEncoding.EncodeToString(rc.Blob)
	}
	return out
}
