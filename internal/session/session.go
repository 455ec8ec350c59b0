package session

import (
	"context"
	"encoding/json"
	"errors"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/gorilla/websocket"
	"github.com/rs/zerolog"

	"github.com/mizuki-dev/starwatch/internal/codec"
	"github.com/mizuki-dev/starwatch/internal/gateway"
	"github.com/mizuki-dev/starwatch/pkg/log"
)

var (
	ErrAlreadyConnecting = errors.New("session already connecting")
	ErrAlreadyConnected  = errors.New("session already connected")
	ErrExhaustedHosts    = errors.New("no reachable host")
	ErrNotActive         = errors.New("session is not connecting or connected")
)

// State is the connection state of a session.
type State int32

const (
	StateInit State = iota
	StateConnecting
	StateEstablished
	StateClosing
	StateClosed
	StateError
)

func (s State) String() string {
	switch s {
	case StateInit:
		return "INIT"
	case StateConnecting:
		return "CONNECTING"
	case StateEstablished:
		return "ESTABLISHED"
	case StateClosing:
		return "CLOSING"
	case StateClosed:
		return "CLOSED"
	case StateError:
		return "ERROR"
	default:
		return "UNKNOWN"
	}
}

// Resolver supplies the room identity and chat-gateway connection config.
// *gateway.Client satisfies it.
type Resolver interface {
	ResolveRoom(ctx context.Context, roomID int64) (*gateway.RoomPlay, error)
	ChatConf(ctx context.Context, roomID int64) (*gateway.ChatConf, error)
}

// Config tunes one session's connection behavior.
type Config struct {
	// UID is the viewer identity presented in the auth handshake.
	UID int64
	// Buvid is the device identifier presented in the auth handshake.
	Buvid string
	// RetryBackoff is the wait between connection attempts.
	RetryBackoff time.Duration
	// DialTimeout bounds the WebSocket dial plus TLS handshake.
	DialTimeout time.Duration
}

const heartbeatBody = "[object Object]"

type authPayload struct {
	UID      int64  `json:"uid"`
	RoomID   int64  `json:"roomid"`
	ProtoVer int    `json:"protover"`
	Buvid    string `json:"buvid"`
	Platform string `json:"platform"`
	Type     int    `json:"type"`
	Key      string `json:"key"`
}

// Session owns one WebSocket connection to the chat gateway for one room:
// handshake, heartbeat, timeout detection, host failover and the reconnect
// loop. A session is owned exclusively by one room controller and never
// shared across rooms.
type Session struct {
	roomID   int64
	cfg      Config
	resolver Resolver
	bus      *Bus
	logger   zerolog.Logger
	dialer   *websocket.Dialer

	mu         sync.Mutex
	state      State
	realRoomID int64
	conn       *websocket.Conn
	cancel     context.CancelFunc
	done       chan struct{}
	lastErr    error
}

// New creates a session for a room in INIT state. Register bus handlers
// before calling Connect.
func New(roomID int64, resolver Resolver, cfg Config) *Session {
	if cfg.RetryBackoff <= 0 {
		cfg.RetryBackoff = 3 * time.Second
	}
	if cfg.DialTimeout <= 0 {
		cfg.DialTimeout = 10 * time.Second
	}
	return &Session{
		roomID:   roomID,
		cfg:      cfg,
		resolver: resolver,
		bus:      NewBus(),
		logger:   log.L().With().Int64(log.FieldRoomID, roomID).Logger(),
		dialer:   &websocket.Dialer{HandshakeTimeout: cfg.DialTimeout},
		state:    StateInit,
	}
}

// Bus returns the session's event bus.
func (s *Session) Bus() *Bus { return s.bus }

// State returns the current connection state.
func (s *Session) State() State {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.state
}

// RealRoomID returns the resolved internal room id, 0 before the first
// successful lookup.
func (s *Session) RealRoomID() int64 {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.realRoomID
}

// Err returns the terminal error after the session entered ERROR.
func (s *Session) Err() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.lastErr
}

// Connect starts the connection loop. It fails when the session is already
// connecting or connected; a session in CLOSED or ERROR may be connected
// again.
func (s *Session) Connect(ctx context.Context) error {
	s.mu.Lock()
	switch s.state {
	case StateConnecting, StateClosing:
		s.mu.Unlock()
		return ErrAlreadyConnecting
	case StateEstablished:
		s.mu.Unlock()
		return ErrAlreadyConnected
	}
	runCtx, cancel := context.WithCancel(ctx)
	done := make(chan struct{})
	s.state = StateConnecting
	s.cancel = cancel
	s.done = done
	s.lastErr = nil
	s.mu.Unlock()

	s.logger.Info().Str(log.FieldState, StateConnecting.String()).Msg("session connecting")
	go s.run(runCtx, done)
	return nil
}

// Disconnect deliberately closes the session and waits for it to settle at
// CLOSED. No reconnect is attempted. Valid only while connecting or
// connected.
func (s *Session) Disconnect() error {
	s.mu.Lock()
	if s.state != StateConnecting && s.state != StateEstablished {
		s.mu.Unlock()
		return ErrNotActive
	}
	s.state = StateClosing
	cancel := s.cancel
	conn := s.conn
	done := s.done
	s.mu.Unlock()

	s.logger.Info().Str(log.FieldState, StateClosing.String()).Msg("session closing")
	cancel()
	if conn != nil {
		conn.Close()
	}
	<-done
	return nil
}

func (s *Session) setState(next State) {
	s.mu.Lock()
	prev := s.state
	s.state = next
	s.mu.Unlock()
	if prev != next {
		s.logger.Info().Str(log.FieldState, next.String()).Msg("session state changed")
	}
}

func (s *Session) finish(state State, err error) {
	s.mu.Lock()
	s.state = state
	s.lastErr = err
	s.conn = nil
	s.mu.Unlock()
	s.logger.Info().Str(log.FieldState, state.String()).Msg("session settled")
}

// run is the connection loop: resolve, walk the host candidates, and after a
// lost established connection start over with a fresh lookup. Host
// candidates are consumed one per failed attempt; exhausting them without
// reaching ESTABLISHED is terminal.
func (s *Session) run(ctx context.Context, done chan struct{}) {
	defer close(done)

	for {
		conf, err := s.prepare(ctx)
		if err != nil {
			s.finish(StateClosed, nil)
			s.bus.Dispatch(EventDisconnected, "disconnected")
			return
		}

		dropped := false
		for i, host := range conf.Hosts {
			attemptID := uuid.NewString()
			logger := s.logger.With().
				Str(log.FieldAttemptID, attemptID).
				Str(log.FieldHost, host.Host).
				Logger()

			established, attemptErr := s.attempt(ctx, logger, host, conf.Token)
			if ctx.Err() != nil {
				s.finish(StateClosed, nil)
				s.bus.Dispatch(EventDisconnected, "disconnected")
				return
			}
			if established {
				logger.Warn().Err(attemptErr).Msg("connection lost")
				dropped = true
				break
			}
			logger.Warn().Err(attemptErr).Msg("connection attempt failed")
			if i < len(conf.Hosts)-1 {
				if !s.wait(ctx) {
					s.finish(StateClosed, nil)
					s.bus.Dispatch(EventDisconnected, "disconnected")
					return
				}
			}
		}

		if !dropped {
			s.finish(StateError, ErrExhaustedHosts)
			s.logger.Error().Err(ErrExhaustedHosts).Msg("chat host candidates exhausted")
			s.bus.Dispatch(EventDisconnected, ErrExhaustedHosts.Error())
			return
		}

		// The connection was up and then lost. Reconnect from scratch so the
		// token and host list are fresh.
		s.setState(StateConnecting)
		if !s.wait(ctx) {
			s.finish(StateClosed, nil)
			s.bus.Dispatch(EventDisconnected, "disconnected")
			return
		}
	}
}

// wait sleeps the retry backoff, reporting false when the session was
// cancelled during the wait.
func (s *Session) wait(ctx context.Context) bool {
	select {
	case <-ctx.Done():
		return false
	case <-time.After(s.cfg.RetryBackoff):
		return true
	}
}

// prepare resolves the real room id and chat config, retrying lookup
// failures with backoff until cancelled.
func (s *Session) prepare(ctx context.Context) (*gateway.ChatConf, error) {
	for {
		play, err := s.resolver.ResolveRoom(ctx, s.roomID)
		if err == nil {
			s.mu.Lock()
			s.realRoomID = play.RealRoomID
			s.mu.Unlock()

			conf, confErr := s.resolver.ChatConf(ctx, play.RealRoomID)
			if confErr == nil && len(conf.Hosts) > 0 {
				return conf, nil
			}
			err = confErr
			if err == nil {
				err = errors.New("empty host list")
			}
		}

		s.logger.Warn().Err(err).Msg("chat gateway lookup failed")
		if !s.wait(ctx) {
			return nil, ctx.Err()
		}
	}
}

// attempt dials one host and runs the connection until it drops. established
// reports whether the handshake completed before the drop.
func (s *Session) attempt(ctx context.Context, logger zerolog.Logger, host gateway.Host, token string) (bool, error) {
	conn, _, err := s.dialer.DialContext(ctx, host.URL(), nil)
	if err != nil {
		return false, err
	}
	defer conn.Close()

	s.mu.Lock()
	s.conn = conn
	realRoomID := s.realRoomID
	s.mu.Unlock()

	auth, err := json.Marshal(authPayload{
		UID:      s.cfg.UID,
		RoomID:   realRoomID,
		ProtoVer: 3,
		Buvid:    s.cfg.Buvid,
		Platform: "web",
		Type:     2,
		Key:      token,
	})
	if err != nil {
		return false, err
	}
	frame, err := codec.Pack(auth, codec.ProtoHeartbeat, codec.PacketAuth)
	if err != nil {
		return false, err
	}
	if err := conn.WriteMessage(websocket.BinaryMessage, frame); err != nil {
		return false, err
	}

	if err := s.awaitAuthAck(conn); err != nil {
		return false, err
	}
	s.setState(StateEstablished)
	logger.Info().Msg("authenticated to chat gateway")
	s.bus.Dispatch(EventConnected, nil)

	hb := &heartbeat{}
	hbCtx, stopHeartbeat := context.WithCancel(ctx)
	defer stopHeartbeat()
	timedOut := make(chan struct{})
	go s.runHeartbeat(hbCtx, conn, hb, timedOut)

	for {
		_, data, err := conn.ReadMessage()
		if err != nil {
			select {
			case <-timedOut:
				return true, errors.New("heartbeat timeout")
			default:
				return true, err
			}
		}

		frames, err := codec.Unpack(data)
		if err != nil {
			logger.Warn().Err(err).Msg("dropping malformed frame")
			continue
		}
		for _, f := range frames {
			s.handleFrame(logger, hb, f)
		}
	}
}

func (s *Session) awaitAuthAck(conn *websocket.Conn) error {
	_, data, err := conn.ReadMessage()
	if err != nil {
		return err
	}
	frames, err := codec.Unpack(data)
	if err != nil {
		return err
	}
	if len(frames) == 0 || frames[0].PacketType != codec.PacketAuthAck {
		return errors.New("handshake rejected")
	}
	var ack struct {
		Code int `json:"code"`
	}
	if err := frames[0].JSON(&ack); err != nil || ack.Code != 0 {
		return errors.New("handshake rejected")
	}
	return nil
}

// runHeartbeat ticks the countdown once per second. On expiry it
// force-closes the socket so the read loop unblocks and reports the timeout
// as the close reason.
func (s *Session) runHeartbeat(ctx context.Context, conn *websocket.Conn, hb *heartbeat, timedOut chan struct{}) {
	frame, err := codec.Pack([]byte(heartbeatBody), codec.ProtoHeartbeat, codec.PacketHeartbeat)
	if err != nil {
		return
	}

	ticker := time.NewTicker(time.Second)
	defer ticker.Stop()
	for {
		beat, expired := hb.Tick()
		if expired {
			s.logger.Warn().Msg("heartbeat timed out, closing socket")
			close(timedOut)
			conn.Close()
			return
		}
		if beat {
			if err := conn.WriteMessage(websocket.BinaryMessage, frame); err != nil {
				return
			}
		}

		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
		}
	}
}

func (s *Session) handleFrame(logger zerolog.Logger, hb *heartbeat, f codec.Frame) {
	switch f.PacketType {
	case codec.PacketHeartbeatAck:
		hb.Ack()
		s.bus.Dispatch(EventPopularity, f.Popularity)
	case codec.PacketNotice:
		var head struct {
			Cmd string `json:"cmd"`
		}
		if err := f.JSON(&head); err != nil || head.Cmd == "" {
			logger.Warn().Msg("notice frame without cmd")
			return
		}
		// Some commands arrive suffixed with variant markers, e.g.
		// "DANMU_MSG:4:0:2:2:2:0".
		cmd, _, _ := strings.Cut(head.Cmd, ":")
		s.bus.Dispatch(cmd, json.RawMessage(f.Payload))
	case codec.PacketAuthAck:
	default:
		logger.Debug().Uint32("packet_type", f.PacketType).Msg("unhandled packet")
	}
}
