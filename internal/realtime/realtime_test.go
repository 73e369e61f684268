package realtime

import (
	"net/http"
	"net/http/httptest"
	"os"
	"sync"
	"testing"
	"time"

	"github.com/gorilla/websocket"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/rickgao/docchat/internal/config"
	"github.com/rickgao/docchat/internal/connection"
	"github.com/rickgao/docchat/internal/protocol"
)

// fakeBackend accepts Socket.IO clients, greets each with server_ready and
// forwards every text frame it reads to frames.
func fakeBackend(t *testing.T) (*httptest.Server, <-chan string) {
	t.Helper()
	upgrader := websocket.Upgrader{CheckOrigin: func(*http.Request) bool { return true }}
	frames := make(chan string, 32)

	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		conn, err := upgrader.Upgrade(w, r, nil)
		if err != nil {
			return
		}
		defer conn.Close()

		conn.WriteMessage(websocket.TextMessage, []byte(`0{"sid":"e1","upgrades":[],"pingInterval":25000,"pingTimeout":20000}`))
		if _, _, err := conn.ReadMessage(); err != nil {
			return
		}
		conn.WriteMessage(websocket.TextMessage, []byte(`40{"sid":"s1"}`))
		conn.WriteMessage(websocket.TextMessage, []byte(`42["server_ready",{"ok":true}]`))

		for {
			_, data, err := conn.ReadMessage()
			if err != nil {
				return
			}
			frames <- string(data)
		}
	}))
	t.Cleanup(server.Close)
	return server, frames
}

func useBase(t *testing.T, base string) {
	t.Helper()
	reset(func() config.RuntimeConfig {
		return config.RuntimeConfig{APIBase: base, WSBase: base}
	})
	t.Cleanup(func() { reset(config.Runtime) })
}

func TestAcquire_SameSocket(t *testing.T) {
	server, _ := fakeBackend(t)
	useBase(t, server.URL)

	a := Acquire()
	b := Acquire()

	require.NotNil(t, a.Socket)
	assert.Same(t, a.Socket, b.Socket)
}

func TestAcquire_Concurrent(t *testing.T) {
	server, _ := fakeBackend(t)
	useBase(t, server.URL)

	const callers = 32
	sockets := make([]*connection.Socket, callers)
	var wg sync.WaitGroup
	for i := 0; i < callers; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			sockets[i] = Acquire().Socket
		}(i)
	}
	wg.Wait()

	for i := 1; i < callers; i++ {
		assert.Same(t, sockets[0], sockets[i])
	}
}

func TestAcquire_TargetsWSBase(t *testing.T) {
	useBase(t, "https://chat.example.com")

	h := Acquire()

	assert.Equal(t, "wss://chat.example.com/socket.io/?EIO=4&transport=websocket", h.Socket.Endpoint().URL)
}

func TestAcquire_DefaultBase(t *testing.T) {
	t.Setenv("NUXT_PUBLIC_WS_BASE", "")
	require.NoError(t, os.Unsetenv("NUXT_PUBLIC_WS_BASE"))
	reset(config.LoadRuntime)
	t.Cleanup(func() { reset(config.Runtime) })

	h := Acquire()

	assert.Equal(t, "ws://localhost:8000/socket.io/?EIO=4&transport=websocket", h.Socket.Endpoint().URL)
}

func TestAcquire_ListenBeforeConnect(t *testing.T) {
	server, frames := fakeBackend(t)
	useBase(t, server.URL)

	h := Acquire()
	ready := make(chan bool, 1)
	h.On("server_ready", func(ev protocol.Event) {
		var p struct {
			OK bool `json:"ok"`
		}
		assert.NoError(t, ev.Bind(0, &p))
		ready <- p.OK
	})
	require.NoError(t, h.Emit("user_question", map[string]string{"question": "hi"}))

	select {
	case ok := <-ready:
		assert.True(t, ok)
	case <-time.After(2 * time.Second):
		t.Fatal("timeout waiting for server_ready")
	}

	select {
	case frame := <-frames:
		assert.Equal(t, `42["user_question",{"question":"hi"}]`, frame)
	case <-time.After(2 * time.Second):
		t.Fatal("timeout waiting for buffered emit")
	}
}

func TestHandle_Off(t *testing.T) {
	useBase(t, "http://127.0.0.1:1")

	h := Acquire()
	a := h.On("bot_chunk", func(protocol.Event) {})
	h.On("bot_chunk", func(protocol.Event) {})
	require.Equal(t, 2, h.Socket.ListenerCount("bot_chunk"))

	h.Off("bot_chunk", a)
	assert.Equal(t, 1, h.Socket.ListenerCount("bot_chunk"))

	h.Off("bot_chunk")
	assert.Equal(t, 0, h.Socket.ListenerCount("bot_chunk"))
}

func TestAcquire_ConnectFailureReachesConfiguredListener(t *testing.T) {
	useBase(t, "http://127.0.0.1:1")

	failed := make(chan string, 1)
	require.NoError(t, Configure(
		WithTuning(config.SocketConfig{ConnectTimeout: 500 * time.Millisecond}),
		WithListener(connection.EventConnectError, func(ev protocol.Event) {
			var data protocol.ConnectErrorData
			assert.NoError(t, ev.Bind(0, &data))
			failed <- data.Message
		}),
	))

	h := Acquire()
	// Give the background connect time to fail before anything else happens.
	time.Sleep(50 * time.Millisecond)

	select {
	case msg := <-failed:
		assert.NotEmpty(t, msg)
	case <-time.After(2 * time.Second):
		t.Fatal("connect_error not delivered")
	}
	<-h.Socket.Finished()
	assert.Equal(t, connection.StateClosed, h.Socket.State())
}

func TestAcquire_ConfiguredListenerSeesConnect(t *testing.T) {
	server, _ := fakeBackend(t)
	useBase(t, server.URL)

	sid := make(chan string, 1)
	require.NoError(t, Configure(WithListener(connection.EventConnect, func(ev protocol.Event) {
		var id string
		assert.NoError(t, ev.Bind(0, &id))
		sid <- id
	})))

	Acquire()

	select {
	case id := <-sid:
		assert.Equal(t, "s1", id)
	case <-time.After(2 * time.Second):
		t.Fatal("connect not delivered")
	}
}

func TestConfigure_WithBaseOverridesRuntime(t *testing.T) {
	useBase(t, "http://localhost:8000")

	require.NoError(t, Configure(WithBase("https://override.example.com")))
	h := Acquire()

	assert.Equal(t, "wss://override.example.com/socket.io/?EIO=4&transport=websocket", h.Socket.Endpoint().URL)
}

func TestConfigure_WithHeader(t *testing.T) {
	upgrader := websocket.Upgrader{CheckOrigin: func(*http.Request) bool { return true }}
	userID := make(chan string, 1)
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		userID <- r.Header.Get("X-User-Id")
		conn, err := upgrader.Upgrade(w, r, nil)
		if err != nil {
			return
		}
		conn.Close()
	}))
	t.Cleanup(server.Close)
	useBase(t, server.URL)

	require.NoError(t, Configure(WithHeader(http.Header{"X-User-Id": {"dana"}})))
	Acquire()

	select {
	case id := <-userID:
		assert.Equal(t, "dana", id)
	case <-time.After(2 * time.Second):
		t.Fatal("handshake request not received")
	}
}

func TestOpen_NotShared(t *testing.T) {
	server, _ := fakeBackend(t)
	useBase(t, "http://127.0.0.1:1")

	ready := make(chan struct{}, 1)
	h := Open(WithBase(server.URL), WithListener("server_ready", func(protocol.Event) {
		ready <- struct{}{}
	}))
	defer h.Socket.Close()

	assert.NotSame(t, Acquire().Socket, h.Socket)
	select {
	case <-ready:
	case <-time.After(2 * time.Second):
		t.Fatal("server_ready not delivered")
	}
}

func TestConfigure_AfterAcquire(t *testing.T) {
	useBase(t, "http://127.0.0.1:1")

	require.NoError(t, Configure(WithLogger(nil)))
	Acquire()

	assert.ErrorIs(t, Configure(WithAuth(map[string]any{"token": "x"})), ErrAlreadyAcquired)
}

func TestConfigure_AppliesTuning(t *testing.T) {
	useBase(t, "http://localhost:8000")

	require.NoError(t, Configure(WithTuning(config.SocketConfig{Path: "/rt/", Namespace: "/chat"})))
	h := Acquire()

	assert.Equal(t, "ws://localhost:8000/rt/?EIO=4&transport=websocket", h.Socket.Endpoint().URL)
	assert.Equal(t, "/chat", h.Socket.Endpoint().Namespace)
}
