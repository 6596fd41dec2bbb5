// Package ws serves a simulated world over WebSocket and provides the client
// the executor and verifier use to reach it.
package ws

import (
	"context"
	"encoding/json"
	"net/http"
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"
	"github.com/gorilla/websocket"
	"go.uber.org/zap"

	"voxelbuild.ai/internal/protocol"
	"voxelbuild.ai/internal/simworld"
)

const (
	maxMessageBytes = 4 << 20
	writeTimeout    = 5 * time.Second
	idleTimeout     = 60 * time.Second
	outQueue        = 64
)

type Server struct {
	world *simworld.World
	log   *zap.Logger

	minY, maxY int

	upgrader websocket.Upgrader

	mu     sync.Mutex
	conns  map[*websocket.Conn]struct{}
	closed bool
	wg     sync.WaitGroup

	requests atomic.Int64
}

func NewServer(w *simworld.World, logger *zap.Logger) *Server {
	if logger == nil {
		logger = zap.NewNop()
	}
	minY, maxY := w.Height()
	return &Server{
		world: w,
		log:   logger,
		minY:  minY,
		maxY:  maxY,
		upgrader: websocket.Upgrader{
			ReadBufferSize:  64 * 1024,
			WriteBufferSize: 64 * 1024,
			CheckOrigin:     func(r *http.Request) bool { return true }, // dev default
		},
		conns: map[*websocket.Conn]struct{}{},
	}
}

// Requests is the number of requests served, handshakes excluded.
func (s *Server) Requests() int64 { return s.requests.Load() }

// Close drops every open connection and waits for their handlers.
func (s *Server) Close() {
	s.mu.Lock()
	s.closed = true
	for c := range s.conns {
		_ = c.Close()
	}
	s.mu.Unlock()
	s.wg.Wait()
}

func (s *Server) track(c *websocket.Conn) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return false
	}
	s.conns[c] = struct{}{}
	s.wg.Add(1)
	return true
}

func (s *Server) untrack(c *websocket.Conn) {
	s.mu.Lock()
	delete(s.conns, c)
	s.mu.Unlock()
	s.wg.Done()
}

func (s *Server) Handler() http.HandlerFunc {
	return func(rw http.ResponseWriter, r *http.Request) {
		conn, err := s.upgrader.Upgrade(rw, r, nil)
		if err != nil {
			return
		}
		defer conn.Close()
		if !s.track(conn) {
			return
		}
		defer s.untrack(conn)
		conn.SetReadLimit(maxMessageBytes)

		session, ok := s.handshake(conn)
		if !ok {
			return
		}
		log := s.log.With(zap.String("session", session))
		log.Info("client connected", zap.String("remote", r.RemoteAddr))

		ctx, cancel := context.WithCancel(r.Context())
		defer cancel()

		out := make(chan []byte, outQueue)
		writerDone := make(chan struct{})
		// Writer goroutine.
		go func() {
			defer close(writerDone)
			for {
				select {
				case <-ctx.Done():
					return
				case b := <-out:
					_ = conn.SetWriteDeadline(time.Now().Add(writeTimeout))
					if err := conn.WriteMessage(websocket.TextMessage, b); err != nil {
						cancel()
						return
					}
				}
			}
		}()

		// Reader loop. Requests run in arrival order so commands apply in the
		// order the client sent them.
		for {
			_ = conn.SetReadDeadline(time.Now().Add(idleTimeout))
			_, msg, err := conn.ReadMessage()
			if err != nil {
				break
			}
			resp, ok := s.serve(ctx, msg)
			if !ok {
				continue
			}
			b, err := json.Marshal(resp)
			if err != nil {
				log.Error("encode response", zap.Error(err))
				continue
			}
			select {
			case out <- b:
			case <-ctx.Done():
			}
			if ctx.Err() != nil {
				break
			}
		}
		cancel()
		<-writerDone
		log.Info("client disconnected")
	}
}

func (s *Server) handshake(conn *websocket.Conn) (string, bool) {
	_ = conn.SetReadDeadline(time.Now().Add(5 * time.Second))
	_, msg, err := conn.ReadMessage()
	if err != nil {
		return "", false
	}
	base, err := protocol.DecodeBase(msg)
	if err != nil || base.Type != protocol.TypeHello {
		_ = conn.WriteControl(websocket.CloseMessage, websocket.FormatCloseMessage(websocket.ClosePolicyViolation, "expected HELLO"), time.Now().Add(time.Second))
		return "", false
	}
	var hello protocol.HelloMsg
	if err := json.Unmarshal(msg, &hello); err != nil {
		return "", false
	}
	if !protocol.IsSupportedVersion(hello.ProtocolVersion) {
		_ = conn.WriteControl(websocket.CloseMessage, websocket.FormatCloseMessage(websocket.ClosePolicyViolation, "bad protocol_version"), time.Now().Add(time.Second))
		return "", false
	}

	welcome := protocol.WelcomeMsg{
		Type:            protocol.TypeWelcome,
		ProtocolVersion: protocol.Version,
		SessionID:       uuid.NewString(),
		Status:          s.status(),
		MinY:            s.minY,
		MaxY:            s.maxY,
	}
	if err := writeJSON(conn, welcome); err != nil {
		return "", false
	}
	return welcome.SessionID, true
}

func (s *Server) status() protocol.Status {
	return protocol.Status{Ready: s.world.Ready(), Paused: s.world.Paused()}
}

// serve answers one message. ok is false for messages that get no response.
func (s *Server) serve(ctx context.Context, msg []byte) (protocol.Response, bool) {
	base, err := protocol.DecodeBase(msg)
	if err != nil || base.Type != protocol.TypeReq {
		return protocol.Response{}, false
	}
	var req protocol.Request
	if err := json.Unmarshal(msg, &req); err != nil {
		return protocol.Response{}, false
	}
	s.requests.Add(1)
	resp := protocol.Response{Type: protocol.TypeResp, ID: req.ID}
	fail := func(code string, err error) (protocol.Response, bool) {
		resp.Error = &protocol.ErrorInfo{Code: code, Message: err.Error()}
		return resp, true
	}

	switch req.Op {
	case protocol.OpStatus:
		st := s.status()
		resp.Status = &st
	case protocol.OpRead:
		if req.Pos == nil {
			return fail(protocol.ErrProtoBadRequest, errMissing("pos"))
		}
		id, ok, err := s.world.ReadState(ctx, *req.Pos)
		if err != nil {
			return fail(protocol.ErrInternal, err)
		}
		if ok {
			state, _ := s.world.Codec().StateString(id)
			resp.State, resp.Observable = state, true
		}
	case protocol.OpExec, protocol.OpBatch:
		if code, err := s.mutable(); err != nil {
			return fail(code, err)
		}
		cmds := req.Commands
		if req.Op == protocol.OpExec {
			cmds = []string{req.Command}
		}
		n, err := s.world.ExecBatch(ctx, cmds)
		resp.Executed = n
		if err != nil {
			return fail(protocol.ErrBadCommand, err)
		}
	default:
		return fail(protocol.ErrProtoBadRequest, errUnknownOp(req.Op))
	}
	return resp, true
}

func (s *Server) mutable() (string, error) {
	switch {
	case !s.world.Ready():
		return protocol.ErrWorldNotReady, errState("not ready")
	case s.world.Paused():
		return protocol.ErrWorldPaused, errState("paused")
	}
	return "", nil
}

type wireError string

func (e wireError) Error() string { return string(e) }

func errMissing(field string) error { return wireError("missing " + field) }
func errUnknownOp(op string) error  { return wireError("unknown op " + op) }
func errState(s string) error       { return wireError("world " + s) }

func writeJSON(conn *websocket.Conn, v any) error {
	b, err := json.Marshal(v)
	if err != nil {
		return err
	}
	_ = conn.SetWriteDeadline(time.Now().Add(writeTimeout))
	return conn.WriteMessage(websocket.TextMessage, b)
}
