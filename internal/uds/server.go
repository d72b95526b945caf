package uds

import (
	"errors"
	"fmt"
	"log"
	"net"
	"os"
	"runtime/debug"
	"sync"
	"time"
)

// HandlerFunc processes one admin command. Handlers must not retain req.
type HandlerFunc func(req *Request) *Response

// Server answers admin commands on a Unix domain socket. Each connection
// carries exactly one request and one response; the daemon registers a
// handler per command before Start.
type Server struct {
	path     string
	timeout  time.Duration
	listener net.Listener
	done     chan struct{}
	stopOnce sync.Once
	wg       sync.WaitGroup

	mu     sync.RWMutex
	routes map[string]HandlerFunc
}

func NewServer(socketPath string) *Server {
	return &Server{
		path:    socketPath,
		timeout: 30 * time.Second,
		done:    make(chan struct{}),
		routes:  make(map[string]HandlerFunc),
	}
}

// SetConnTimeout bounds how long one request/response exchange may take.
func (s *Server) SetConnTimeout(d time.Duration) {
	s.timeout = d
}

func (s *Server) Handle(command string, handler HandlerFunc) {
	s.mu.Lock()
	s.routes[command] = handler
	s.mu.Unlock()
}

func (s *Server) Start() error {
	// A previous daemon may have left its socket behind.
	_ = os.Remove(s.path)

	ln, err := net.Listen("unix", s.path)
	if err != nil {
		return fmt.Errorf("listen on %s: %w", s.path, err)
	}

	// The socket carries loop control commands, so only the owner may use it.
	if err := os.Chmod(s.path, 0600); err != nil {
		_ = ln.Close()
		return fmt.Errorf("chmod socket: %w", err)
	}

	s.listener = ln
	s.wg.Add(1)
	go s.acceptLoop()
	return nil
}

// Stop closes the listener, waits for in-flight connections, and removes the
// socket file. Safe to call more than once.
func (s *Server) Stop() error {
	s.stopOnce.Do(func() { close(s.done) })
	if s.listener != nil {
		_ = s.listener.Close()
	}
	s.wg.Wait()
	_ = os.Remove(s.path)
	return nil
}

func (s *Server) acceptLoop() {
	defer s.wg.Done()
	for {
		conn, err := s.listener.Accept()
		if err != nil {
			if errors.Is(err, net.ErrClosed) {
				return
			}
			select {
			case <-s.done:
				return
			default:
			}
			log.Printf("uds: accept: %v", err)
			continue
		}
		s.wg.Add(1)
		go func() {
			defer s.wg.Done()
			s.serveConn(conn)
		}()
	}
}

// serveConn runs one exchange: read a request, dispatch it, write the reply.
func (s *Server) serveConn(conn net.Conn) {
	defer func() { _ = conn.Close() }()
	_ = conn.SetDeadline(time.Now().Add(s.timeout))

	var req Request
	if err := ReadFrame(conn, &req); err != nil {
		log.Printf("uds: read request: %v", err)
		return
	}
	if err := WriteFrame(conn, s.dispatch(&req)); err != nil {
		log.Printf("uds: write response: %v", err)
	}
}

// dispatch routes the request to its handler, turning a handler panic into an
// INTERNAL_ERROR response so one bad command cannot take the daemon down.
func (s *Server) dispatch(req *Request) (resp *Response) {
	defer func() {
		if r := recover(); r != nil {
			log.Printf("uds: panic handling %q: %v\n%s", req.Command, r, debug.Stack())
			resp = ErrorResponse(ErrCodeInternal, fmt.Sprintf("internal error handling %q", req.Command))
		}
	}()

	if req.ProtocolVersion != ProtocolVersion {
		msg := fmt.Sprintf("protocol version mismatch: got %d, want %d", req.ProtocolVersion, ProtocolVersion)
		return ErrorResponse(ErrCodeProtocolMismatch, msg)
	}

	s.mu.RLock()
	handler, ok := s.routes[req.Command]
	s.mu.RUnlock()
	if !ok {
		return ErrorResponse(ErrCodeUnknownCommand, fmt.Sprintf("unknown command: %q", req.Command))
	}
	return handler(req)
}
