package control

import (
	"encoding/json"
	"fmt"
	"net"
	"time"
)

// Client sends control commands to a running processor
type Client struct {
	socketPath string
	timeout    time.Duration
}

// NewClient creates a new control client
func NewClient(socketPath string) *Client {
	return &Client{
		socketPath: socketPath,
		timeout:    30 * time.Second, // cleanup can take a while on large stores
	}
}

// SetTimeout sets the client timeout for commands
func (c *Client) SetTimeout(timeout time.Duration) {
	c.timeout = timeout
}

// SendCommand sends a command and waits for the response
func (c *Client) SendCommand(cmd Command) (*Response, error) {
	conn, err := net.DialTimeout("unix", c.socketPath, c.timeout)
	if err != nil {
		return nil, fmt.Errorf("failed to connect to processor (is `deflect serve` running?): %w", err)
	}
	defer conn.Close()

	if err := conn.SetDeadline(time.Now().Add(c.timeout)); err != nil {
		return nil, fmt.Errorf("failed to set deadline: %w", err)
	}

	if err := json.NewEncoder(conn).Encode(cmd); err != nil {
		return nil, fmt.Errorf("failed to send command: %w", err)
	}

	var resp Response
	if err := json.NewDecoder(conn).Decode(&resp); err != nil {
		return nil, fmt.Errorf("failed to read response: %w", err)
	}

	return &resp, nil
}

// Pause stops the processor claiming new jobs
func (c *Client) Pause(reason string) (*Response, error) {
	return c.SendCommand(Command{Type: CmdPause, Reason: reason, Timestamp: time.Now()})
}

// Resume re-enables claiming
func (c *Client) Resume() (*Response, error) {
	return c.SendCommand(Command{Type: CmdResume, Timestamp: time.Now()})
}

// Status requests the processor status and queue counts
func (c *Client) Status() (*Response, error) {
	return c.SendCommand(Command{Type: CmdStatus, Timestamp: time.Now()})
}

// Recover runs the stale-job reaper now
func (c *Client) Recover() (*Response, error) {
	return c.SendCommand(Command{Type: CmdRecover, Timestamp: time.Now()})
}

// Cleanup runs retention cleanup now
func (c *Client) Cleanup() (*Response, error) {
	return c.SendCommand(Command{Type: CmdCleanup, Timestamp: time.Now()})
}
