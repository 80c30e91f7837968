// Package client implements a Go client for the microkv wire protocol.
// It speaks the identical codec contract as the server: one Array request,
// one reply, in order.
package client

import (
	"fmt"
	"net"
	"sync"
	"time"

	"github.com/microkv/microkv/internal/protocol"
)

// CommandError is an error reply returned by the server.
type CommandError struct {
	Message string
}

func (e *CommandError) Error() string { return e.Message }

// Client is a connection to a microkv server. Methods serialize with an
// internal lock, so a Client is safe for concurrent use; each request
// receives exactly one reply.
type Client struct {
	mu     sync.Mutex
	conn   net.Conn
	reader *protocol.Reader
	writer *protocol.Writer
}

// Dial connects to a microkv server at addr.
func Dial(addr string) (*Client, error) {
	return DialTimeout(addr, 5*time.Second)
}

// DialTimeout connects to a microkv server with a connect timeout.
func DialTimeout(addr string, timeout time.Duration) (*Client, error) {
	conn, err := net.DialTimeout("tcp", addr, timeout)
	if err != nil {
		return nil, fmt.Errorf("client: dial %s: %w", addr, err)
	}
	return &Client{
		conn:   conn,
		reader: protocol.NewReader(conn),
		writer: protocol.NewWriter(conn),
	}, nil
}

// Close closes the connection.
func (c *Client) Close() error { return c.conn.Close() }

// Execute sends args as an Array request and decodes one reply. An
// error-tagged reply comes back as *CommandError.
func (c *Client) Execute(args ...string) (protocol.Value, error) {
	c.mu.Lock()
	defer c.mu.Unlock()

	elems := make([]protocol.Value, len(args))
	for i, arg := range args {
		elems[i] = protocol.BulkString([]byte(arg))
	}

	if err := c.writer.WriteValue(protocol.ArrayValue(elems...)); err != nil {
		return protocol.Value{}, fmt.Errorf("client: write request: %w", err)
	}

	reply, err := c.reader.ReadValue()
	if err != nil {
		return protocol.Value{}, fmt.Errorf("client: read reply: %w", err)
	}
	if reply.Type == protocol.TypeError {
		return protocol.Value{}, &CommandError{Message: reply.Str}
	}
	return reply, nil
}

// Get returns the value stored at key, or nil when the key is absent.
func (c *Client) Get(key string) ([]byte, error) {
	reply, err := c.Execute("GET", key)
	if err != nil {
		return nil, err
	}
	if reply.Null {
		return nil, nil
	}
	return []byte(reply.Str), nil
}

// Set stores value at key.
func (c *Client) Set(key, value string) error {
	_, err := c.Execute("SET", key, value)
	return err
}

// Delete removes key and reports whether it was present.
func (c *Client) Delete(key string) (bool, error) {
	reply, err := c.Execute("DELETE", key)
	if err != nil {
		return false, err
	}
	return reply.Num == 1, nil
}

// Flush clears the store and returns the number of entries removed.
func (c *Client) Flush() (int64, error) {
	reply, err := c.Execute("FLUSH")
	if err != nil {
		return 0, err
	}
	return reply.Num, nil
}

// MGet looks up keys in order; absent keys yield a nil element.
func (c *Client) MGet(keys ...string) ([][]byte, error) {
	args := append([]string{"MGET"}, keys...)
	reply, err := c.Execute(args...)
	if err != nil {
		return nil, err
	}
	out := make([][]byte, len(reply.Array))
	for i, elem := range reply.Array {
		if elem.Null {
			continue
		}
		out[i] = []byte(elem.Str)
	}
	return out, nil
}

// MSet applies alternating key/value arguments and returns the number of
// pairs stored.
func (c *Client) MSet(kv ...string) (int64, error) {
	args := append([]string{"MSET"}, kv...)
	reply, err := c.Execute(args...)
	if err != nil {
		return 0, err
	}
	return reply.Num, nil
}

// Ping checks connection liveness.
func (c *Client) Ping() error {
	_, err := c.Execute("PING")
	return err
}
