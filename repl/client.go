package main

import (
	"encoding/json"
	"fmt"
	"net"
	"time"

	cmdbridge "github.com/Paranoid-AF/cmdbridge"
)

// Client talks to a running cmdbridged over one TCP connection. Each message
// is written in a single write and answered by exactly one JSON document.
type Client struct {
	conn    net.Conn
	dec     *json.Decoder
	timeout time.Duration
}

// Dial connects to the bridge at addr. timeout bounds the dial and every
// subsequent exchange.
func Dial(addr string, timeout time.Duration) (*Client, error) {
	conn, err := net.DialTimeout("tcp", addr, timeout)
	if err != nil {
		return nil, fmt.Errorf("connect to %s: %w", addr, err)
	}
	return &Client{conn: conn, dec: json.NewDecoder(conn), timeout: timeout}, nil
}

// Close closes the connection.
func (c *Client) Close() error {
	return c.conn.Close()
}

// Send writes msg verbatim and returns the raw response.
func (c *Client) Send(msg []byte) (json.RawMessage, error) {
	if c.timeout > 0 {
		c.conn.SetDeadline(time.Now().Add(c.timeout))
	}
	if _, err := c.conn.Write(msg); err != nil {
		return nil, fmt.Errorf("send: %w", err)
	}
	var raw json.RawMessage
	if err := c.dec.Decode(&raw); err != nil {
		return nil, fmt.Errorf("read response: %w", err)
	}
	return raw, nil
}

// Call sends a request of the given type and returns the raw response.
func (c *Client) Call(typ string, params any) (json.RawMessage, error) {
	req := cmdbridge.Request{Type: typ}
	if params != nil {
		data, err := json.Marshal(params)
		if err != nil {
			return nil, err
		}
		req.Params = data
	}
	data, err := json.Marshal(req)
	if err != nil {
		return nil, err
	}
	return c.Send(data)
}

// Ping sends the liveness check.
func (c *Client) Ping() (json.RawMessage, error) {
	return c.Send([]byte("ping"))
}
