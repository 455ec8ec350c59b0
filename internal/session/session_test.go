package session

import (
	"bytes"
	"context"
	"crypto/tls"
	"encoding/binary"
	"encoding/json"
	"errors"
	"net"
	"net/http"
	"net/http/httptest"
	"net/url"
	"strconv"
	"strings"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/gorilla/websocket"
	"github.com/rs/zerolog"

	"github.com/mizuki-dev/starwatch/internal/gateway"
)

type fakeResolver struct {
	hosts []gateway.Host
	token string
}

func (f *fakeResolver) ResolveRoom(ctx context.Context, roomID int64) (*gateway.RoomPlay, error) {
	return &gateway.RoomPlay{RealRoomID: roomID * 100, UID: 7}, nil
}

func (f *fakeResolver) ChatConf(ctx context.Context, roomID int64) (*gateway.ChatConf, error) {
	return &gateway.ChatConf{Token: f.token, Hosts: f.hosts}, nil
}

// serverFrame builds a gateway-side frame by hand; Pack only accepts
// client-side frames.
func serverFrame(payload []byte, protoVer uint16, packetType uint32) []byte {
	buf := make([]byte, 16+len(payload))
	binary.BigEndian.PutUint32(buf[0:4], uint32(16+len(payload)))
	binary.BigEndian.PutUint16(buf[4:6], 16)
	binary.BigEndian.PutUint16(buf[6:8], protoVer)
	binary.BigEndian.PutUint32(buf[8:12], packetType)
	binary.BigEndian.PutUint32(buf[12:16], 1)
	copy(buf[16:], payload)
	return buf
}

func wsTestServer(t *testing.T, handler func(*websocket.Conn)) gateway.Host {
	t.Helper()
	upgrader := websocket.Upgrader{}
	srv := httptest.NewTLSServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		conn, err := upgrader.Upgrade(w, r, nil)
		if err != nil {
			return
		}
		defer conn.Close()
		handler(conn)
	}))
	t.Cleanup(srv.Close)

	u, err := url.Parse(srv.URL)
	if err != nil {
		t.Fatalf("parse server url: %v", err)
	}
	port, _ := strconv.Atoi(u.Port())
	return gateway.Host{Host: u.Hostname(), WssPort: port}
}

// unreachableHost returns a host whose port was just released, so dials fail
// immediately.
func unreachableHost(t *testing.T) gateway.Host {
	t.Helper()
	l, err := net.Listen("tcp", "127.0.0.1:0")
	if err != nil {
		t.Fatalf("listen: %v", err)
	}
	port := l.Addr().(*net.TCPAddr).Port
	l.Close()
	return gateway.Host{Host: "127.0.0.1", WssPort: port}
}

func newTestSession(roomID int64, resolver Resolver) *Session {
	s := New(roomID, resolver, Config{
		UID:          7,
		Buvid:        "test-buvid",
		RetryBackoff: 20 * time.Millisecond,
		DialTimeout:  2 * time.Second,
	})
	s.dialer.TLSClientConfig = &tls.Config{InsecureSkipVerify: true}
	return s
}

func waitForState(t *testing.T, s *Session, want State) {
	t.Helper()
	deadline := time.Now().Add(5 * time.Second)
	for time.Now().Before(deadline) {
		if s.State() == want {
			return
		}
		time.Sleep(10 * time.Millisecond)
	}
	t.Fatalf("state = %v, want %v", s.State(), want)
}

// acceptingHandler completes the auth handshake, pushes one notice and one
// heartbeat ack, then consumes client frames until the connection drops.
func acceptingHandler(token string) func(*websocket.Conn) {
	return func(conn *websocket.Conn) {
		_, data, err := conn.ReadMessage()
		if err != nil {
			return
		}
		var auth struct {
			Key string `json:"key"`
		}
		if json.Unmarshal(data[16:], &auth) != nil || auth.Key != token {
			return
		}
		conn.WriteMessage(websocket.BinaryMessage, serverFrame([]byte(`{"code":0}`), 1, 8))
		conn.WriteMessage(websocket.BinaryMessage, serverFrame([]byte(`{"cmd":"LIVE","data":{"live_time":1700000000}}`), 0, 5))

		pop := make([]byte, 4)
		binary.BigEndian.PutUint32(pop, 9001)
		conn.WriteMessage(websocket.BinaryMessage, serverFrame(pop, 1, 3))

		for {
			if _, _, err := conn.ReadMessage(); err != nil {
				return
			}
		}
	}
}

func TestSessionEstablishesAndDispatches(t *testing.T) {
	host := wsTestServer(t, acceptingHandler("tok"))
	s := newTestSession(42, &fakeResolver{hosts: []gateway.Host{host}, token: "tok"})

	notices := make(chan string, 4)
	popularity := make(chan uint32, 4)
	s.Bus().On("LIVE", func(name string, payload any) { notices <- name })
	s.Bus().On(EventPopularity, func(name string, payload any) { popularity <- payload.(uint32) })

	if err := s.Connect(context.Background()); err != nil {
		t.Fatalf("Connect() error = %v", err)
	}
	defer s.Disconnect()
	waitForState(t, s, StateEstablished)

	if got := s.RealRoomID(); got != 4200 {
		t.Errorf("RealRoomID() = %d, want 4200", got)
	}

	select {
	case name := <-notices:
		if name != "LIVE" {
			t.Errorf("notice = %q, want LIVE", name)
		}
	case <-time.After(5 * time.Second):
		t.Fatal("no notice dispatched")
	}
	select {
	case p := <-popularity:
		if p != 9001 {
			t.Errorf("popularity = %d, want 9001", p)
		}
	case <-time.After(5 * time.Second):
		t.Fatal("no popularity dispatched")
	}
}

func TestSessionConnectWhileConnectedFails(t *testing.T) {
	host := wsTestServer(t, acceptingHandler("tok"))
	s := newTestSession(42, &fakeResolver{hosts: []gateway.Host{host}, token: "tok"})

	if err := s.Connect(context.Background()); err != nil {
		t.Fatalf("Connect() error = %v", err)
	}
	defer s.Disconnect()
	waitForState(t, s, StateEstablished)

	if err := s.Connect(context.Background()); !errors.Is(err, ErrAlreadyConnected) {
		t.Errorf("Connect() error = %v, want ErrAlreadyConnected", err)
	}
}

func TestSessionDeliberateDisconnectDoesNotRetry(t *testing.T) {
	var dials atomic.Int32
	host := wsTestServer(t, func(conn *websocket.Conn) {
		dials.Add(1)
		acceptingHandler("tok")(conn)
	})
	s := newTestSession(42, &fakeResolver{hosts: []gateway.Host{host}, token: "tok"})

	if err := s.Connect(context.Background()); err != nil {
		t.Fatalf("Connect() error = %v", err)
	}
	waitForState(t, s, StateEstablished)

	if err := s.Disconnect(); err != nil {
		t.Fatalf("Disconnect() error = %v", err)
	}
	if got := s.State(); got != StateClosed {
		t.Errorf("state after disconnect = %v, want CLOSED", got)
	}

	time.Sleep(100 * time.Millisecond)
	if got := dials.Load(); got != 1 {
		t.Errorf("dial count after disconnect = %d, want 1", got)
	}

	if err := s.Disconnect(); !errors.Is(err, ErrNotActive) {
		t.Errorf("second Disconnect() error = %v, want ErrNotActive", err)
	}
}

func TestSessionFailsOverToNextHost(t *testing.T) {
	good := wsTestServer(t, acceptingHandler("tok"))
	hosts := []gateway.Host{unreachableHost(t), good}
	s := newTestSession(42, &fakeResolver{hosts: hosts, token: "tok"})

	if err := s.Connect(context.Background()); err != nil {
		t.Fatalf("Connect() error = %v", err)
	}
	defer s.Disconnect()
	waitForState(t, s, StateEstablished)
}

func TestSessionExhaustedHostsIsTerminal(t *testing.T) {
	hosts := []gateway.Host{unreachableHost(t), unreachableHost(t)}
	s := newTestSession(42, &fakeResolver{hosts: hosts, token: "tok"})

	if err := s.Connect(context.Background()); err != nil {
		t.Fatalf("Connect() error = %v", err)
	}
	waitForState(t, s, StateError)

	if err := s.Err(); !errors.Is(err, ErrExhaustedHosts) {
		t.Errorf("Err() = %v, want ErrExhaustedHosts", err)
	}
}

type logSink struct {
	mu  sync.Mutex
	buf bytes.Buffer
}

func (s *logSink) Write(p []byte) (int, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.buf.Write(p)
}

func (s *logSink) String() string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.buf.String()
}

func TestSessionFailedDialLogsAttemptFailure(t *testing.T) {
	sink := &logSink{}
	s := newTestSession(42, &fakeResolver{hosts: []gateway.Host{unreachableHost(t)}, token: "tok"})
	s.logger = zerolog.New(sink)

	if err := s.Connect(context.Background()); err != nil {
		t.Fatalf("Connect() error = %v", err)
	}
	waitForState(t, s, StateError)

	deadline := time.Now().Add(2 * time.Second)
	for time.Now().Before(deadline) {
		if strings.Contains(sink.String(), "connection attempt failed") {
			break
		}
		time.Sleep(10 * time.Millisecond)
	}
	out := sink.String()
	if !strings.Contains(out, "connection attempt failed") {
		t.Errorf("log output missing attempt failure:\n%s", out)
	}
	if strings.Contains(out, "connection lost") {
		t.Errorf("never-established dial logged as a lost connection:\n%s", out)
	}
}

func TestSessionRejectedHandshakeConsumesHost(t *testing.T) {
	rejecting := wsTestServer(t, func(conn *websocket.Conn) {
		if _, _, err := conn.ReadMessage(); err != nil {
			return
		}
		conn.WriteMessage(websocket.BinaryMessage, serverFrame([]byte(`{"code":-101}`), 1, 8))
	})
	s := newTestSession(42, &fakeResolver{hosts: []gateway.Host{rejecting}, token: "tok"})

	if err := s.Connect(context.Background()); err != nil {
		t.Fatalf("Connect() error = %v", err)
	}
	waitForState(t, s, StateError)
}
