package mcpmgr

import (
	"bufio"
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"io"
	"os"
	"sync"

	"github.com/modelcontextprotocol/go-sdk/jsonrpc"
	"github.com/modelcontextprotocol/go-sdk/mcp"
)

// newTransport binds the process's stdout and stdin to a newline-delimited
// JSON-RPC transport.
func newTransport(proc *process, logger RPCLogger) mcp.Transport {
	var t mcp.Transport = &pipeTransport{r: proc.stdout, w: proc.stdin}
	if logger != nil {
		t = &loggingTransport{serverID: proc.serverID, delegate: t, logger: logger}
	}
	return t
}

// pipeTransport speaks MCP over the parent's ends of a provider's stdio pipes.
type pipeTransport struct {
	r io.ReadCloser
	w io.WriteCloser
}

func (t *pipeTransport) Connect(context.Context) (mcp.Connection, error) {
	return newPipeConn(t.r, t.w), nil
}

type lineOrErr struct {
	line []byte
	err  error
}

type pipeConn struct {
	r io.ReadCloser
	w io.WriteCloser

	writeMu  sync.Mutex
	incoming chan lineOrErr

	closeOnce sync.Once
	closed    chan struct{}
	closeErr  error
}

func newPipeConn(r io.ReadCloser, w io.WriteCloser) *pipeConn {
	c := &pipeConn{
		r:        r,
		w:        w,
		incoming: make(chan lineOrErr),
		closed:   make(chan struct{}),
	}
	go c.readLines()
	return c
}

// readLines feeds incoming until the stream fails. Closing r unblocks it.
func (c *pipeConn) readLines() {
	br := bufio.NewReader(c.r)
	for {
		line, err := br.ReadBytes('\n')
		line = bytes.TrimSpace(line)
		if len(line) > 0 {
			select {
			case c.incoming <- lineOrErr{line: line}:
			case <-c.closed:
				return
			}
		}
		if err != nil {
			select {
			case c.incoming <- lineOrErr{err: err}:
			case <-c.closed:
			}
			return
		}
	}
}

func (c *pipeConn) SessionID() string { return "" }

func (c *pipeConn) Read(ctx context.Context) (jsonrpc.Message, error) {
	select {
	case <-ctx.Done():
		return nil, ctx.Err()
	case <-c.closed:
		return nil, io.EOF
	case in := <-c.incoming:
		if in.err != nil {
			return nil, in.err
		}
		return jsonrpc.DecodeMessage(in.line)
	}
}

func (c *pipeConn) Write(_ context.Context, msg jsonrpc.Message) error {
	data, err := jsonrpc.EncodeMessage(msg)
	if err != nil {
		return err
	}
	data = append(data, '\n')
	c.writeMu.Lock()
	defer c.writeMu.Unlock()
	select {
	case <-c.closed:
		return mcp.ErrConnectionClosed
	default:
	}
	_, err = c.w.Write(data)
	return err
}

// Close closes both pipes. The process owner may close them too, so an
// already-closed file is not an error.
func (c *pipeConn) Close() error {
	c.closeOnce.Do(func() {
		close(c.closed)
		c.closeErr = errors.Join(ignoreClosed(c.w.Close()), ignoreClosed(c.r.Close()))
	})
	return c.closeErr
}

func ignoreClosed(err error) error {
	if errors.Is(err, os.ErrClosed) {
		return nil
	}
	return err
}

type loggingTransport struct {
	serverID string
	delegate mcp.Transport
	logger   RPCLogger
}

func (t *loggingTransport) Connect(ctx context.Context) (mcp.Connection, error) {
	conn, err := t.delegate.Connect(ctx)
	if err != nil {
		return nil, err
	}
	return &loggingConnection{serverID: t.serverID, delegate: conn, logger: t.logger}, nil
}

type loggingConnection struct {
	serverID string
	delegate mcp.Connection
	logger   RPCLogger
	mu       sync.Mutex
}

func (c *loggingConnection) SessionID() string { return c.delegate.SessionID() }

func (c *loggingConnection) Read(ctx context.Context) (jsonrpc.Message, error) {
	msg, err := c.delegate.Read(ctx)
	if err == nil {
		c.emit(RPCDirectionReceive, msg)
	}
	return msg, err
}

func (c *loggingConnection) Write(ctx context.Context, msg jsonrpc.Message) error {
	if err := c.delegate.Write(ctx, msg); err != nil {
		return err
	}
	c.emit(RPCDirectionSend, msg)
	return nil
}

func (c *loggingConnection) Close() error { return c.delegate.Close() }

func (c *loggingConnection) emit(direction RPCDirection, msg jsonrpc.Message) {
	c.mu.Lock()
	defer c.mu.Unlock()
	encoded, err := json.Marshal(msg)
	if err != nil {
		encoded = []byte(err.Error())
	}
	c.logger(RPCLogEvent{Direction: direction, Message: encoded, ServerID: c.serverID})
}
