package channel

import (
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/gorilla/websocket"
	"github.com/stretchr/testify/require"
)

var testUpgrader = websocket.Upgrader{
	CheckOrigin: func(_ *http.Request) bool { return true },
}

// wsServer is a websocket test server that records dial attempts and hands
// accepted connections to the test body.
type wsServer struct {
	srv *httptest.Server

	mu        sync.Mutex
	dials     int
	dialTimes []time.Time

	accepted chan *websocket.Conn
}

func newWSServer(t *testing.T) *wsServer {
	t.Helper()
	s := &wsServer{accepted: make(chan *websocket.Conn, 16)}
	s.srv = httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		s.mu.Lock()
		s.dials++
		s.dialTimes = append(s.dialTimes, time.Now())
		s.mu.Unlock()
		conn, err := testUpgrader.Upgrade(w, r, nil)
		if err != nil {
			return
		}
		s.accepted <- conn
	}))
	t.Cleanup(s.srv.Close)
	return s
}

func (s *wsServer) url() string {
	return "ws" + strings.TrimPrefix(s.srv.URL, "http")
}

func (s *wsServer) dialCount() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.dials
}

func (s *wsServer) dialTime(i int) time.Time {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.dialTimes[i]
}

func (s *wsServer) nextConn(t *testing.T) *websocket.Conn {
	t.Helper()
	select {
	case conn := <-s.accepted:
		return conn
	case <-time.After(2 * time.Second):
		t.Fatal("timed out waiting for websocket connection")
		return nil
	}
}

func TestDefaultRetryDelayIsOneSecond(t *testing.T) {
	srv := newWSServer(t)
	ch := Open(srv.url(), func(map[string]any) {})
	defer ch.Close()
	require.Equal(t, time.Second, ch.retryDelay)
}

func TestDeliversDecodedPayloads(t *testing.T) {
	srv := newWSServer(t)

	payloads := make(chan map[string]any, 16)
	ch := Open(srv.url(), func(p map[string]any) { payloads <- p })
	defer ch.Close()

	conn := srv.nextConn(t)
	require.NoError(t, conn.WriteMessage(websocket.TextMessage, []byte(`{"type":"ping"}`)))

	select {
	case p := <-payloads:
		require.Equal(t, "ping", p["type"])
	case <-time.After(2 * time.Second):
		t.Fatal("handler was not invoked")
	}
	require.Equal(t, StatusConnected, ch.Status())
}

func TestMalformedFrameIsDroppedAndChannelStaysOpen(t *testing.T) {
	srv := newWSServer(t)

	payloads := make(chan map[string]any, 16)
	ch := Open(srv.url(), func(p map[string]any) { payloads <- p })
	defer ch.Close()

	conn := srv.nextConn(t)
	require.NoError(t, conn.WriteMessage(websocket.TextMessage, []byte("not-json")))
	require.NoError(t, conn.WriteMessage(websocket.TextMessage, []byte(`[1,2,3]`)))
	require.NoError(t, conn.WriteMessage(websocket.TextMessage, []byte(`{"type":"pong"}`)))

	// frames are processed in order per connection, so seeing the valid one
	// proves the malformed ones were dropped without a handler call
	select {
	case p := <-payloads:
		require.Equal(t, "pong", p["type"])
	case <-time.After(2 * time.Second):
		t.Fatal("well-formed frame after malformed frames was not delivered")
	}
	require.Empty(t, payloads)
	require.Equal(t, StatusConnected, ch.Status())
	require.Equal(t, 1, srv.dialCount())
}

func TestReconnectsAfterServerClose(t *testing.T) {
	srv := newWSServer(t)

	payloads := make(chan map[string]any, 16)
	ch := Open(srv.url(), func(p map[string]any) { payloads <- p }, WithRetryDelay(100*time.Millisecond))
	defer ch.Close()

	first := srv.nextConn(t)
	closedAt := time.Now()
	require.NoError(t, first.Close())

	second := srv.nextConn(t)
	require.GreaterOrEqual(t, srv.dialCount(), 2)
	// the second attempt happens after the fixed delay, not immediately
	require.GreaterOrEqual(t, srv.dialTime(1).Sub(closedAt), 100*time.Millisecond)
	require.Less(t, srv.dialTime(1).Sub(closedAt), 2*time.Second)

	require.NoError(t, second.WriteMessage(websocket.TextMessage, []byte(`{"type":"hello"}`)))
	select {
	case p := <-payloads:
		require.Equal(t, "hello", p["type"])
	case <-time.After(2 * time.Second):
		t.Fatal("no delivery after reconnect")
	}
	require.Equal(t, StatusConnected, ch.Status())
}

func TestCloseCancelsPendingReconnect(t *testing.T) {
	// plain HTTP handler: every upgrade fails, so the channel keeps retrying
	var attempts atomic.Int64
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		attempts.Add(1)
		http.Error(w, "no upgrade here", http.StatusNotFound)
	}))
	defer srv.Close()

	ch := Open("ws"+strings.TrimPrefix(srv.URL, "http"), func(map[string]any) {
		t.Error("handler must never be invoked")
	}, WithRetryDelay(50*time.Millisecond))

	require.Eventually(t, func() bool {
		return attempts.Load() >= 2
	}, 2*time.Second, 10*time.Millisecond)

	ch.Close()
	time.Sleep(100 * time.Millisecond)
	settled := attempts.Load()
	time.Sleep(500 * time.Millisecond)
	require.Equal(t, settled, attempts.Load(), "connection attempts continued after Close")
	require.Equal(t, StatusClosed, ch.Status())
}

func TestCloseImmediatelyAfterOpen(t *testing.T) {
	release := make(chan struct{})
	var handlerCalls atomic.Int64
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		<-release
		conn, err := testUpgrader.Upgrade(w, r, nil)
		if err != nil {
			return
		}
		_ = conn.WriteMessage(websocket.TextMessage, []byte(`{"type":"late"}`))
		_ = conn.Close()
	}))
	defer srv.Close()
	defer close(release)

	ch := Open("ws"+strings.TrimPrefix(srv.URL, "http"), func(map[string]any) {
		handlerCalls.Add(1)
	}, WithRetryDelay(50*time.Millisecond))
	ch.Close()

	time.Sleep(300 * time.Millisecond)
	require.Equal(t, int64(0), handlerCalls.Load())
	require.Equal(t, StatusClosed, ch.Status())
}

func TestAtMostOneLiveConnection(t *testing.T) {
	var live, maxLive atomic.Int64
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		conn, err := testUpgrader.Upgrade(w, r, nil)
		if err != nil {
			return
		}
		n := live.Add(1)
		for {
			m := maxLive.Load()
			if n <= m || maxLive.CompareAndSwap(m, n) {
				break
			}
		}
		time.Sleep(10 * time.Millisecond)
		_ = conn.Close()
		live.Add(-1)
	}))
	defer srv.Close()

	ch := Open("ws"+strings.TrimPrefix(srv.URL, "http"), func(map[string]any) {},
		WithRetryDelay(20*time.Millisecond),
		WithDialer(&websocket.Dialer{HandshakeTimeout: time.Second}))
	defer ch.Close()

	require.Eventually(t, func() bool {
		return maxLive.Load() >= 1 && live.Load() == 0
	}, 2*time.Second, 10*time.Millisecond)
	time.Sleep(500 * time.Millisecond)
	require.Equal(t, int64(1), maxLive.Load())
}

func TestOriginIsReevaluatedPerAttempt(t *testing.T) {
	var originCalls atomic.Int64
	ch := Open("/__ws__", func(map[string]any) {},
		WithRetryDelay(20*time.Millisecond),
		WithOrigin(func() string {
			originCalls.Add(1)
			// unreachable on purpose; every attempt must re-derive the target
			return "http://127.0.0.1:1"
		}))
	defer ch.Close()

	require.Eventually(t, func() bool {
		return originCalls.Load() >= 3
	}, 3*time.Second, 10*time.Millisecond)
}
