package mcpmgr

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/modelcontextprotocol/go-sdk/mcp"
)

// protocolClient is the MCP client half of one provider connection.
type protocolClient struct {
	serverID string
	client   *mcp.Client
	session  *mcp.ClientSession
}

func newProtocolClient(serverID string, impl *mcp.Implementation) *protocolClient {
	return &protocolClient{
		serverID: serverID,
		client:   mcp.NewClient(impl, nil),
	}
}

// connect performs the initialize handshake over transport. The caller bounds
// it through ctx.
func (c *protocolClient) connect(ctx context.Context, transport mcp.Transport) error {
	session, err := c.client.Connect(ctx, transport, nil)
	if err != nil {
		return fmt.Errorf("%w: %s: %w", ErrHandshake, c.serverID, err)
	}
	c.session = session
	return nil
}

// listTools collects every page of tools/list within ctx's deadline.
func (c *protocolClient) listTools(ctx context.Context) ([]Tool, error) {
	var tools []Tool
	params := &mcp.ListToolsParams{}
	for {
		res, err := c.session.ListTools(ctx, params)
		if err != nil {
			return nil, c.classify(ctx, "tools/list", "", err)
		}
		for _, t := range res.Tools {
			if t == nil {
				continue
			}
			tools = append(tools, toolFromSDK(t))
		}
		if res.NextCursor == "" {
			return tools, nil
		}
		params = &mcp.ListToolsParams{Cursor: res.NextCursor}
	}
}

func (c *protocolClient) callTool(ctx context.Context, name string, args map[string]any, timeout time.Duration) (*mcp.CallToolResult, error) {
	ctx, cancel := withTimeout(ctx, timeout)
	defer cancel()
	if args == nil {
		args = map[string]any{}
	}
	res, err := c.session.CallTool(ctx, &mcp.CallToolParams{Name: name, Arguments: args})
	if err != nil {
		return nil, c.classify(ctx, "tools/call", name, err)
	}
	return res, nil
}

func (c *protocolClient) close() error {
	if c.session == nil {
		return nil
	}
	return c.session.Close()
}

// wait blocks until the session ends.
func (c *protocolClient) wait() error {
	if c.session == nil {
		return nil
	}
	return c.session.Wait()
}

func (c *protocolClient) classify(ctx context.Context, method, tool string, err error) error {
	if errors.Is(err, context.DeadlineExceeded) || errors.Is(ctx.Err(), context.DeadlineExceeded) {
		return fmt.Errorf("%w: %s %s: %w", ErrRequestTimeout, c.serverID, method, err)
	}
	if errors.Is(err, context.Canceled) {
		return err
	}
	return &RemoteError{ServerID: c.serverID, Method: method, Tool: tool, Err: err}
}

func withTimeout(ctx context.Context, timeout time.Duration) (context.Context, context.CancelFunc) {
	if timeout <= 0 {
		return ctx, func() {}
	}
	return context.WithTimeout(ctx, timeout)
}
