// Package control is the local operator channel to a running processor: a
// unix socket speaking newline-delimited JSON.
package control

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net"
	"os"
	"path/filepath"
	"sync"
	"time"
)

// Command types
const (
	CmdPause   = "pause"
	CmdResume  = "resume"
	CmdStatus  = "status"
	CmdRecover = "recover"
	CmdCleanup = "cleanup"
)

// Command represents a control command sent to the processor
type Command struct {
	Type      string    `json:"type"`
	Reason    string    `json:"reason,omitempty"` // Optional operator note, logged with pause
	Timestamp time.Time `json:"timestamp"`
}

// Response represents a response to a control command
type Response struct {
	Success bool                   `json:"success"`
	Message string                 `json:"message"`
	Data    map[string]interface{} `json:"data,omitempty"`
	Error   string                 `json:"error,omitempty"`
}

// HandlerFunc executes a command and returns response data
type HandlerFunc func(ctx context.Context, cmd Command) (map[string]interface{}, error)

// Server manages the control socket
type Server struct {
	socketPath string
	listener   *net.UnixListener
	mu         sync.RWMutex
	running    bool
	stopCh     chan struct{}
	doneCh     chan struct{}

	handler HandlerFunc
}

// NewServer creates a new control server. A stale socket file left by a
// crashed process is removed.
func NewServer(socketPath string, handler HandlerFunc) (*Server, error) {
	if handler == nil {
		return nil, fmt.Errorf("handler is required")
	}

	dir := filepath.Dir(socketPath)
	if err := os.MkdirAll(dir, 0755); err != nil {
		return nil, fmt.Errorf("failed to create socket directory: %w", err)
	}
	if err := os.RemoveAll(socketPath); err != nil {
		return nil, fmt.Errorf("failed to remove existing socket: %w", err)
	}

	return &Server{
		socketPath: socketPath,
		handler:    handler,
		stopCh:     make(chan struct{}),
		doneCh:     make(chan struct{}),
	}, nil
}

// Start begins listening for control commands
func (s *Server) Start(ctx context.Context) error {
	s.mu.Lock()
	if s.running {
		s.mu.Unlock()
		return fmt.Errorf("control server already running")
	}

	addr, err := net.ResolveUnixAddr("unix", s.socketPath)
	if err != nil {
		s.mu.Unlock()
		return fmt.Errorf("invalid control socket path: %w", err)
	}
	listener, err := net.ListenUnix("unix", addr)
	if err != nil {
		s.mu.Unlock()
		return fmt.Errorf("failed to create control socket: %w", err)
	}
	// Operators only
	if err := os.Chmod(s.socketPath, 0600); err != nil {
		_ = listener.Close()
		s.mu.Unlock()
		return fmt.Errorf("failed to restrict control socket: %w", err)
	}

	s.listener = listener
	s.running = true
	s.mu.Unlock()

	fmt.Printf("Control server listening on %s\n", s.socketPath)

	go s.acceptLoop(ctx)
	return nil
}

func (s *Server) acceptLoop(ctx context.Context) {
	defer close(s.doneCh)
	defer func() {
		s.mu.Lock()
		s.running = false
		s.mu.Unlock()
	}()

	for {
		select {
		case <-ctx.Done():
			return
		case <-s.stopCh:
			return
		default:
		}

		// Accept timeout lets the loop observe stop and cancellation
		if err := s.listener.SetDeadline(time.Now().Add(1 * time.Second)); err != nil {
			fmt.Fprintf(os.Stderr, "control: failed to set deadline: %v\n", err)
			return
		}

		conn, err := s.listener.Accept()
		if err != nil {
			var netErr net.Error
			if errors.As(err, &netErr) && netErr.Timeout() {
				continue
			}
			select {
			case <-s.stopCh:
				return
			default:
			}
			if errors.Is(err, net.ErrClosed) {
				return
			}
			fmt.Fprintf(os.Stderr, "control: accept error: %v\n", err)
			continue
		}

		go s.handleConnection(ctx, conn)
	}
}

// handleConnection processes a single control connection
func (s *Server) handleConnection(ctx context.Context, conn net.Conn) {
	defer conn.Close()

	// Bad clients must not hold a goroutine forever
	if err := conn.SetDeadline(time.Now().Add(30 * time.Second)); err != nil {
		fmt.Fprintf(os.Stderr, "control: failed to set deadline: %v\n", err)
		return
	}

	var cmd Command
	if err := json.NewDecoder(conn).Decode(&cmd); err != nil {
		s.sendError(conn, fmt.Sprintf("failed to decode command: %v", err))
		return
	}
	if cmd.Timestamp.IsZero() {
		cmd.Timestamp = time.Now()
	}

	var resp Response
	data, err := s.handler(ctx, cmd)
	if err != nil {
		resp = Response{
			Success: false,
			Message: fmt.Sprintf("Command failed: %v", err),
			Error:   err.Error(),
		}
	} else {
		resp = Response{
			Success: true,
			Message: fmt.Sprintf("Command '%s' completed successfully", cmd.Type),
			Data:    data,
		}
	}

	if err := s.sendResponse(conn, resp); err != nil {
		fmt.Fprintf(os.Stderr, "control: failed to send response: %v\n", err)
	}
}

func (s *Server) sendError(conn net.Conn, message string) {
	resp := Response{
		Success: false,
		Message: message,
		Error:   message,
	}
	_ = s.sendResponse(conn, resp) // Ignore errors on error path
}

func (s *Server) sendResponse(conn net.Conn, resp Response) error {
	return json.NewEncoder(conn).Encode(resp)
}

// Stop stops the control server and removes the socket file
func (s *Server) Stop() error {
	s.mu.Lock()
	if !s.running {
		s.mu.Unlock()
		return nil
	}
	s.mu.Unlock()

	close(s.stopCh)

	// Close listener to unblock Accept
	if err := s.listener.Close(); err != nil && !errors.Is(err, net.ErrClosed) {
		fmt.Fprintf(os.Stderr, "control: error closing listener: %v\n", err)
	}

	select {
	case <-s.doneCh:
	case <-time.After(5 * time.Second):
		fmt.Fprintf(os.Stderr, "control: timeout waiting for server shutdown\n")
	}

	if err := os.RemoveAll(s.socketPath); err != nil {
		fmt.Fprintf(os.Stderr, "control: failed to remove socket file: %v\n", err)
	}

	fmt.Printf("Control server stopped\n")
	return nil
}

// IsRunning returns whether the server is currently running
func (s *Server) IsRunning() bool {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.running
}

// SocketPath returns the path to the control socket
func (s *Server) SocketPath() string {
	return s.socketPath
}
