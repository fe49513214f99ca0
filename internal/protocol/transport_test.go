package protocol

import (
	"context"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/gorilla/websocket"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func receive(t *testing.T, p Port) Envelope {
	t.Helper()
	select {
	case env, ok := <-p.Receive():
		require.True(t, ok, "port closed")
		return env
	case <-time.After(2 * time.Second):
		t.Fatal("timed out waiting for envelope")
		return Envelope{}
	}
}

func TestPipeFIFO(t *testing.T) {
	a, b := NewPipe("controller", "sandbox")
	defer a.Close()
	defer b.Close()

	ctx := context.Background()
	// Posting never blocks, even with nobody reading yet
	for i := 0; i < 100; i++ {
		require.NoError(t, a.Post(ctx, []byte{byte(i)}))
	}
	for i := 0; i < 100; i++ {
		env := receive(t, b)
		assert.Equal(t, "controller", env.Source)
		assert.Equal(t, []byte{byte(i)}, env.Data)
	}
}

func TestPipeClose(t *testing.T) {
	a, b := NewPipe("a", "b")
	require.NoError(t, a.Close())
	assert.ErrorIs(t, a.Post(context.Background(), []byte("x")), ErrPortClosed)
	assert.ErrorIs(t, b.Post(context.Background(), []byte("x")), ErrPortClosed)

	_, ok := <-a.Receive()
	assert.False(t, ok)
	b.Close()
}

func TestHubStampsSource(t *testing.T) {
	hub := NewHub()
	sandbox, err := hub.Join("sandbox", "controller")
	require.NoError(t, err)
	controller, err := hub.Join("controller", "sandbox")
	require.NoError(t, err)
	intruder, err := hub.Join("intruder", "sandbox")
	require.NoError(t, err)
	defer sandbox.Close()
	defer controller.Close()
	defer intruder.Close()

	_, err = hub.Join("sandbox", "x")
	assert.Error(t, err)

	ctx := context.Background()
	require.NoError(t, intruder.Post(ctx, []byte("evil")))
	require.NoError(t, controller.Post(ctx, []byte("good")))

	assert.Equal(t, Envelope{Source: "intruder", Data: []byte("evil")}, receive(t, sandbox))
	assert.Equal(t, Envelope{Source: "controller", Data: []byte("good")}, receive(t, sandbox))

	assert.Error(t, controller.PostTo(ctx, "nobody", []byte("x")))
}

func TestWebSocketPort(t *testing.T) {
	upgrader := websocket.Upgrader{}
	serverPorts := make(chan *WebSocketPort, 1)
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		conn, err := upgrader.Upgrade(w, r, nil)
		if err != nil {
			return
		}
		serverPorts <- NewWebSocketPort(conn, "sandbox", "controller", nil)
	}))
	defer srv.Close()

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	url := "ws" + strings.TrimPrefix(srv.URL, "http")
	client, err := DialWebSocket(ctx, url, "controller", "sandbox", nil)
	require.NoError(t, err)
	server := <-serverPorts

	require.NoError(t, Send(ctx, client, LoadRoute{Route: "/a"}))
	require.NoError(t, Send(ctx, client, LoadRoute{Route: "/b"}))

	first := receive(t, server)
	assert.Equal(t, "controller", first.Source)
	msg, err := DecodeToSandbox(first.Data)
	require.NoError(t, err)
	assert.Equal(t, LoadRoute{Route: "/a"}, msg)

	second, err := DecodeToSandbox(receive(t, server).Data)
	require.NoError(t, err)
	assert.Equal(t, LoadRoute{Route: "/b"}, second)

	require.NoError(t, Send(ctx, server, RouteChanged{NewRoute: "/b"}))
	back, err := DecodeToController(receive(t, client).Data)
	require.NoError(t, err)
	assert.Equal(t, RouteChanged{NewRoute: "/b"}, back)

	require.NoError(t, client.Close())
	select {
	case <-server.Done():
	case <-time.After(2 * time.Second):
		t.Fatal("server port did not observe close")
	}
}
