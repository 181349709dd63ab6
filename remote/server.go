package remote

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/gorilla/websocket"
	"github.com/puzpuzpuz/xsync/v3"

	"github.com/arloliu/go-msbridge/acquisition"
	"github.com/arloliu/go-msbridge/logger"
)

// Server exposes an acquisition.Instrument over websocket.
//
// Every connection is a session identified by a random UUID. All sessions observe the
// instrument's scan-arrived and ready events; any session may submit custom scans, subject to
// the instrument's one-in-flight rule.
type Server struct {
	inst     acquisition.Instrument
	cfg      serverConfig
	logger   logger.Logger
	upgrader websocket.Upgrader
	sessions *xsync.MapOf[string, *session]
}

var _ http.Handler = (*Server)(nil)

// NewServer creates a Server serving inst.
func NewServer(inst acquisition.Instrument, opts ...ServerOption) (*Server, error) {
	if inst == nil {
		return nil, ErrInstrumentNil
	}

	cfg := serverConfig{
		writeTimeout: DefaultWriteTimeout,
		logger:       logger.GetLogger(),
	}
	for _, opt := range opts {
		if err := opt.applyServer(&cfg); err != nil {
			return nil, err
		}
	}

	return &Server{
		inst:   inst,
		cfg:    cfg,
		logger: cfg.logger,
		upgrader: websocket.Upgrader{
			ReadBufferSize:  4096,
			WriteBufferSize: 4096,
			CheckOrigin:     func(*http.Request) bool { return true },
		},
		sessions: xsync.NewMapOf[string, *session](),
	}, nil
}

// SessionCount returns the number of connected sessions.
func (s *Server) SessionCount() int {
	return s.sessions.Size()
}

// Close disconnects every session. It does not close the instrument.
func (s *Server) Close() error {
	s.sessions.Range(func(_ string, sess *session) bool {
		sess.close()
		return true
	})

	return nil
}

// ServeHTTP upgrades the request to a websocket and serves the session until it disconnects.
func (s *Server) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	conn, err := s.upgrader.Upgrade(w, r, nil)
	if err != nil {
		s.logger.Warn("websocket upgrade failed", "remote", r.RemoteAddr, "error", err)
		return
	}

	sess := &session{
		id:           uuid.NewString(),
		conn:         conn,
		writeTimeout: s.cfg.writeTimeout,
	}
	sess.logger = s.logger.With("session", sess.id)
	s.sessions.Store(sess.id, sess)
	defer func() {
		s.sessions.Delete(sess.id)
		sess.close()
		sess.logger.Info("session closed")
	}()

	sess.logger.Info("session opened", "remote", r.RemoteAddr)

	hello := &Frame{
		Type:    FrameHello,
		Session: sess.id,
		State:   s.inst.State().String(),
		Params:  s.inst.PossibleParameters(),
	}
	if err := sess.write(hello); err != nil {
		return
	}

	subs := []*acquisition.Subscription{
		s.inst.OnScanArrived(func(scan *acquisition.ResultScan) {
			_ = sess.write(&Frame{Type: FrameScanArrived, Scan: scan})
		}),
		s.inst.OnReadyForNext(func() {
			_ = sess.write(&Frame{Type: FrameReady})
		}),
	}
	defer func() {
		for _, sub := range subs {
			sub.Unsubscribe()
		}
	}()

	for {
		_, data, err := conn.ReadMessage()
		if err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseNormalClosure) {
				sess.logger.Warn("read frame failed", "error", err)
			}
			return
		}

		var f Frame
		if err := json.Unmarshal(data, &f); err != nil {
			_ = sess.write(&Frame{Type: FrameError, Code: CodeBadFrame, Error: err.Error()})
			continue
		}

		s.handle(r.Context(), sess, &f)
	}
}

func (s *Server) handle(ctx context.Context, sess *session, f *Frame) {
	sess.logger.Debug("frame received", "type", f.Type, "id", f.ID)

	switch f.Type {
	case FrameSubmit:
		if f.Request == nil {
			_ = sess.write(&Frame{Type: FrameError, ID: f.ID, Code: CodeBadFrame, Error: "submit frame without request"})
			return
		}

		// hold the write lock across the submit so the result is written before any
		// event of the scan it started
		sess.writeMu.Lock()
		defer sess.writeMu.Unlock()

		res, err := s.inst.SubmitCustomScan(ctx, *f.Request)
		if err != nil {
			_ = sess.writeLocked(errorFrame(f.ID, err))
			return
		}
		_ = sess.writeLocked(&Frame{Type: FrameSubmitResult, ID: f.ID, Result: &res})

	case FrameLastScan:
		scan, _ := s.inst.LastScan()
		_ = sess.write(&Frame{Type: FrameLastScanResult, ID: f.ID, Scan: scan})

	case FrameState:
		_ = sess.write(&Frame{Type: FrameStateResult, ID: f.ID, State: s.inst.State().String()})

	default:
		_ = sess.write(&Frame{Type: FrameError, ID: f.ID, Code: CodeBadFrame, Error: "unknown frame type " + string(f.Type)})
	}
}

// session is one websocket connection. Writes are serialized.
type session struct {
	id           string
	conn         *websocket.Conn
	writeTimeout time.Duration
	logger       logger.Logger

	writeMu   sync.Mutex
	closeOnce sync.Once
}

func (s *session) write(f *Frame) error {
	s.writeMu.Lock()
	defer s.writeMu.Unlock()

	return s.writeLocked(f)
}

func (s *session) writeLocked(f *Frame) error {
	_ = s.conn.SetWriteDeadline(time.Now().Add(s.writeTimeout))
	if err := s.conn.WriteJSON(f); err != nil {
		if !errors.Is(err, websocket.ErrCloseSent) {
			s.logger.Warn("write frame failed", "type", f.Type, "error", err)
		}
		return err
	}

	return nil
}

func (s *session) close() {
	s.closeOnce.Do(func() {
		s.writeMu.Lock()
		msg := websocket.FormatCloseMessage(websocket.CloseNormalClosure, "")
		_ = s.conn.WriteControl(websocket.CloseMessage, msg, time.Now().Add(time.Second))
		s.writeMu.Unlock()
		_ = s.conn.Close()
	})
}
