package communicator

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net"
	"sync"

	"github.com/seantiz/dutharness/internal/broker"
)

// ErrServerClosed is returned by Serve after Close.
var ErrServerClosed = errors.New("communicator: server closed")

// Controller is the part of the test controller driven by commands.
type Controller interface {
	ConfigureTest(name string, args []string) (string, error)
	StartTest() error
}

// Server accepts test system connections. Each connection receives every
// report published on the broker and may send commands to the controller.
type Server struct {
	ctrl   Controller
	broker *broker.Broker
	logger *slog.Logger

	mu        sync.Mutex
	listeners map[net.Listener]struct{}
	conns     map[net.Conn]struct{}
	closed    bool
	wg        sync.WaitGroup
}

// NewServer creates a communicator server.
func NewServer(ctrl Controller, b *broker.Broker, logger *slog.Logger) *Server {
	return &Server{
		ctrl:      ctrl,
		broker:    b,
		logger:    logger,
		listeners: make(map[net.Listener]struct{}),
		conns:     make(map[net.Conn]struct{}),
	}
}

// Run serves connections on l until ctx is cancelled.
func (s *Server) Run(ctx context.Context, l net.Listener) error {
	errCh := make(chan error, 1)
	go func() { errCh <- s.Serve(l) }()

	select {
	case <-ctx.Done():
		s.logger.Info("communicator shutting down", "reason", context.Cause(ctx))
		s.Close()
		<-errCh
		return nil
	case err := <-errCh:
		return err
	}
}

// Serve accepts connections on l and handles each on its own goroutine.
// It blocks until l fails or Close is called, in which case it returns
// ErrServerClosed.
func (s *Server) Serve(l net.Listener) error {
	if !s.track(l, true) {
		l.Close()
		return ErrServerClosed
	}
	defer s.track(l, false)

	s.logger.Info("communicator listening", "addr", l.Addr().String())

	for {
		conn, err := l.Accept()
		if err != nil {
			if s.isClosed() {
				return ErrServerClosed
			}
			return fmt.Errorf("accept: %w", err)
		}

		if !s.trackConn(conn, true) {
			conn.Close()
			return ErrServerClosed
		}
		s.wg.Go(func() {
			defer s.trackConn(conn, false)
			s.handleConnection(conn)
		})
	}
}

// Close stops all listeners, closes open connections and waits for their
// handlers to return.
func (s *Server) Close() error {
	s.mu.Lock()
	s.closed = true
	for l := range s.listeners {
		l.Close()
	}
	for c := range s.conns {
		c.Close()
	}
	s.mu.Unlock()

	s.wg.Wait()
	return nil
}

func (s *Server) isClosed() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.closed
}

func (s *Server) track(l net.Listener, add bool) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	if add {
		if s.closed {
			return false
		}
		s.listeners[l] = struct{}{}
		return true
	}
	delete(s.listeners, l)
	return true
}

func (s *Server) trackConn(c net.Conn, add bool) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	if add {
		if s.closed {
			return false
		}
		s.conns[c] = struct{}{}
		return true
	}
	delete(s.conns, c)
	return true
}

// handleConnection streams reports to conn and dispatches commands read
// from it until the peer disconnects.
func (s *Server) handleConnection(conn net.Conn) {
	defer conn.Close()

	remote := conn.RemoteAddr().String()
	s.logger.Info("test system connected", "remote", remote)

	reports, unsub := s.broker.SubscribeAll()
	defer unsub()

	// Protects conn from concurrent writes by the report forwarder and the
	// command loop.
	var writeMu sync.Mutex
	write := func(msg Message) error {
		writeMu.Lock()
		defer writeMu.Unlock()
		return WriteMessage(conn, &msg)
	}

	done := make(chan struct{})
	var fwd sync.WaitGroup
	fwd.Go(func() {
		for {
			select {
			case r, ok := <-reports:
				if !ok {
					return
				}
				if err := write(Message{Type: MsgTypeReport, Report: &r}); err != nil {
					s.logger.Debug("write report", "remote", remote, "error", err)
					return
				}
			case <-done:
				return
			}
		}
	})

	for {
		var cmd Command
		if err := ReadMessage(conn, &cmd); err != nil {
			if !errors.Is(err, io.EOF) && !errors.Is(err, net.ErrClosed) {
				s.logger.Warn("read command", "remote", remote, "error", err)
			}
			break
		}

		if err := write(s.dispatch(cmd)); err != nil {
			s.logger.Warn("write response", "remote", remote, "error", err)
			break
		}
	}

	close(done)
	fwd.Wait()
	s.logger.Info("test system disconnected", "remote", remote)
}

// dispatch runs cmd against the controller and builds its response.
func (s *Server) dispatch(cmd Command) Message {
	s.logger.Debug("command received", "type", cmd.Type, "test_name", cmd.Name)

	switch cmd.Type {
	case CmdConfigure:
		runID, err := s.ctrl.ConfigureTest(cmd.Name, cmd.Args)
		if err != nil {
			return Message{Type: MsgTypeError, RunID: runID, Error: err.Error()}
		}
		return Message{Type: MsgTypeAck, RunID: runID}
	case CmdStart:
		if err := s.ctrl.StartTest(); err != nil {
			return Message{Type: MsgTypeError, Error: err.Error()}
		}
		return Message{Type: MsgTypeAck}
	default:
		return Message{Type: MsgTypeError, Error: fmt.Sprintf("unknown command type %q", cmd.Type)}
	}
}
