package webchat

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strconv"
	"strings"
	"testing"
	"time"

	"github.com/ThreeDotsLabs/watermill"
	"github.com/ThreeDotsLabs/watermill/pubsub/gochannel"
	"github.com/gorilla/websocket"
	"github.com/stretchr/testify/require"

	"github.com/go-go-golems/sessioncore/pkg/adapter"
	"github.com/go-go-golems/sessioncore/pkg/persistence/chatstore"
	"github.com/go-go-golems/sessioncore/pkg/redisstream"
	"github.com/go-go-golems/sessioncore/pkg/session"
)

func postFrame(t *testing.T, baseURL, id string, f session.Frame) *http.Response {
	t.Helper()
	b, err := json.Marshal(f)
	require.NoError(t, err)
	resp, err := http.Post(baseURL+"/api/sessions/"+id+"/frames", "application/json", strings.NewReader(string(b)))
	require.NoError(t, err)
	t.Cleanup(func() { _ = resp.Body.Close() })
	return resp
}

func decode[T any](t *testing.T, resp *http.Response) T {
	t.Helper()
	var v T
	require.NoError(t, json.NewDecoder(resp.Body).Decode(&v))
	return v
}

func TestServer_PostFramesAndFetchSession(t *testing.T) {
	store := chatstore.NewInMemoryTranscriptStore(0)
	srv := NewServer(WithStore(store))
	ts := httptest.NewServer(srv.Handler())
	defer ts.Close()

	resp := postFrame(t, ts.URL, "s1", session.BeginFrame("hello"))
	require.Equal(t, http.StatusOK, resp.StatusCode)
	postFrame(t, ts.URL, "s1", session.TextEventFrame(adapter.EventContentDelta, "Hi"))
	resp = postFrame(t, ts.URL, "s1", session.CompleteFrame(adapter.Result{}))
	require.Equal(t, http.StatusOK, resp.StatusCode)

	got := decode[sessionResponse](t, resp)
	require.True(t, got.Live)
	require.Len(t, got.Snapshot.Messages, 2)
	require.Equal(t, "Hi", got.Snapshot.Messages[1].Text)
	require.False(t, got.Snapshot.Busy)

	listResp, err := http.Get(ts.URL + "/api/sessions")
	require.NoError(t, err)
	defer func() { _ = listResp.Body.Close() }()
	list := decode[listResponse](t, listResp)
	require.Len(t, list.Live, 1)
	require.Equal(t, "s1", list.Live[0].SessionID)
	require.Len(t, list.Stored, 1)
	require.Equal(t, 2, list.Stored[0].MessageCount)

	// once closed, the stored transcript is served instead
	req, err := http.NewRequest(http.MethodDelete, ts.URL+"/api/sessions/s1", nil)
	require.NoError(t, err)
	delResp, err := http.DefaultClient.Do(req)
	require.NoError(t, err)
	_ = delResp.Body.Close()
	require.Equal(t, http.StatusNoContent, delResp.StatusCode)

	getResp, err := http.Get(ts.URL + "/api/sessions/s1")
	require.NoError(t, err)
	defer func() { _ = getResp.Body.Close() }()
	stored := decode[sessionResponse](t, getResp)
	require.False(t, stored.Live)
	require.Len(t, stored.Messages, 2)

	missing, err := http.Get(ts.URL + "/api/sessions/nope")
	require.NoError(t, err)
	_ = missing.Body.Close()
	require.Equal(t, http.StatusNotFound, missing.StatusCode)
}

func TestServer_RejectsBadRequests(t *testing.T) {
	srv := NewServer()
	ts := httptest.NewServer(srv.Handler())
	defer ts.Close()

	resp, err := http.Post(ts.URL+"/api/sessions/s1/frames", "application/json", strings.NewReader(`{"type":"x"}`))
	require.NoError(t, err)
	_ = resp.Body.Close()
	require.Equal(t, http.StatusBadRequest, resp.StatusCode)

	resp, err = http.Post(ts.URL+"/api/sessions/s1/frames?protocol=grpc", "application/json", strings.NewReader(`{"kind":"begin"}`))
	require.NoError(t, err)
	_ = resp.Body.Close()
	require.Equal(t, http.StatusBadRequest, resp.StatusCode)

	resp, err = http.Get(ts.URL + "/ws")
	require.NoError(t, err)
	_ = resp.Body.Close()
	require.Equal(t, http.StatusBadRequest, resp.StatusCode)
}

func readOutFrame(t *testing.T, conn *websocket.Conn) OutFrame {
	t.Helper()
	require.NoError(t, conn.SetReadDeadline(time.Now().Add(2*time.Second)))
	_, data, err := conn.ReadMessage()
	require.NoError(t, err)
	var f OutFrame
	require.NoError(t, json.Unmarshal(data, &f))
	return f
}

func TestServer_WebsocketReceivesNotifications(t *testing.T) {
	srv := NewServer(WithDefaultProtocol(adapter.ProtocolStructured))
	ts := httptest.NewServer(srv.Handler())
	defer ts.Close()

	wsURL := "ws" + strings.TrimPrefix(ts.URL, "http") + "/ws?session_id=live"
	conn, _, err := websocket.DefaultDialer.Dial(wsURL, nil)
	require.NoError(t, err)
	defer func() { _ = conn.Close() }()

	hello := readOutFrame(t, conn)
	require.Equal(t, FrameSnapshot, hello.Type)
	require.Equal(t, "live", hello.SessionID)
	require.NotNil(t, hello.Snapshot)

	// frames sent over the socket drive the session too
	begin, err := json.Marshal(session.BeginFrame(""))
	require.NoError(t, err)
	require.NoError(t, conn.WriteMessage(websocket.TextMessage, begin))

	state := readOutFrame(t, conn)
	require.Equal(t, FrameState, state.Type)
	require.True(t, *state.Busy)

	f, err := session.JSONEventFrame(adapter.EventAssistant, map[string]any{
		"message": map[string]any{"content": []any{map[string]any{"type": "text", "id": "t0", "text": "hey"}}},
	})
	require.NoError(t, err)
	postFrame(t, ts.URL, "live", f)

	msgs := readOutFrame(t, conn)
	require.Equal(t, FrameMessages, msgs.Type)
	require.Len(t, msgs.Messages, 1)
	require.Equal(t, "hey", msgs.Messages[0].Text)

	postFrame(t, ts.URL, "live", session.TextEventFrame(adapter.EventThinking, "true"))
	thinking := readOutFrame(t, conn)
	require.Equal(t, FrameThinking, thinking.Type)
	require.True(t, *thinking.Thinking)

	sess, ok := srv.Manager().Get("live")
	require.True(t, ok)
	require.Equal(t, adapter.ProtocolStructured, sess.Protocol)
	require.Equal(t, 1, srv.poolFor("live").Count())
}

func TestServer_FramesThroughTransport(t *testing.T) {
	pubsub := gochannel.NewGoChannel(gochannel.Config{OutputChannelBuffer: 16, BlockPublishUntilSubscriberAck: true}, watermill.NopLogger{})
	defer func() { _ = pubsub.Close() }()
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	srv := NewServer(WithTransport(pubsub, pubsub), WithBaseContext(ctx))
	ts := httptest.NewServer(srv.Handler())
	defer ts.Close()

	resp := postFrame(t, ts.URL, "q1", session.BeginFrame("ping"))
	require.Equal(t, http.StatusAccepted, resp.StatusCode)
	postFrame(t, ts.URL, "q1", session.TextEventFrame(adapter.EventContentDelta, "pong"))

	sess, ok := srv.Manager().Get("q1")
	require.True(t, ok)
	require.Eventually(t, func() bool {
		snap := sess.Snapshot()
		return len(snap.Messages) == 2 && snap.Messages[1].Text == "pong"
	}, 2*time.Second, 10*time.Millisecond)
}

func TestServer_EvictionDropsPool(t *testing.T) {
	srv := NewServer()
	sess, _, err := srv.Manager().GetOrCreate("idle", "")
	require.NoError(t, err)

	conn := newStubConn(false)
	srv.poolFor("idle").Add(conn)
	require.NoError(t, srv.Manager().Close(sess.ID))
	require.True(t, conn.closed())

	srv.mu.Lock()
	_, ok := srv.pools["idle"]
	srv.mu.Unlock()
	require.False(t, ok)
}

func TestServer_EvictsSessionAfterLastClientLeaves(t *testing.T) {
	srv := NewServer(WithIdleTimeout(50 * time.Millisecond))
	sess, _, err := srv.Manager().GetOrCreate("left", "")
	require.NoError(t, err)
	sess.Apply(session.BeginFrame("hi"))
	sess.Apply(session.CompleteFrame(adapter.Result{}))

	conn := newStubConn(false)
	pool := srv.poolFor("left")
	pool.Add(conn)
	require.False(t, srv.Manager().EvictIfIdle("left", time.Now().Add(time.Hour)), "connected clients retain the session")

	pool.Remove(conn)
	require.Eventually(t, func() bool {
		_, ok := srv.Manager().Get("left")
		return !ok
	}, 2*time.Second, 10*time.Millisecond)
}

func TestServer_TransportKeepsFrameOrder(t *testing.T) {
	pub, sub, err := redisstream.Build(redisstream.DefaultSettings())
	require.NoError(t, err)
	defer func() { _ = pub.Close() }()
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	srv := NewServer(WithTransport(pub, sub), WithBaseContext(ctx))
	sess, _, err := srv.Manager().GetOrCreate("ordered", adapter.ProtocolText)
	require.NoError(t, err)

	var want strings.Builder
	require.True(t, srv.deliver(sess, session.BeginFrame("count"), mustJSON(t, session.BeginFrame("count"))))
	for i := 0; i < 300; i++ {
		chunk := strconv.Itoa(i) + ","
		want.WriteString(chunk)
		f := session.TextEventFrame(adapter.EventContentDelta, chunk)
		require.True(t, srv.deliver(sess, f, mustJSON(t, f)))
	}

	snap := sess.Snapshot()
	require.True(t, snap.Busy)
	require.Len(t, snap.Messages, 2)
	require.Equal(t, "count", snap.Messages[0].Text)
	require.Equal(t, want.String(), snap.Messages[1].Text)
}

func mustJSON(t *testing.T, v any) []byte {
	t.Helper()
	b, err := json.Marshal(v)
	require.NoError(t, err)
	return b
}

func TestServer_IdempotencyKeySkipsDuplicates(t *testing.T) {
	srv := NewServer()
	ts := httptest.NewServer(srv.Handler())
	defer ts.Close()

	post := func(key string, f session.Frame) *http.Response {
		b, err := json.Marshal(f)
		require.NoError(t, err)
		req, err := http.NewRequest(http.MethodPost, ts.URL+"/api/sessions/s1/frames", strings.NewReader(string(b)))
		require.NoError(t, err)
		req.Header.Set("Idempotency-Key", key)
		resp, err := http.DefaultClient.Do(req)
		require.NoError(t, err)
		t.Cleanup(func() { _ = resp.Body.Close() })
		return resp
	}

	post("k1", session.BeginFrame("hello"))
	post("k2", session.TextEventFrame(adapter.EventContentDelta, "Hi"))
	dup := post("k2", session.TextEventFrame(adapter.EventContentDelta, "Hi"))
	require.Equal(t, http.StatusOK, dup.StatusCode)
	require.Equal(t, true, decode[map[string]any](t, dup)["duplicate"])

	sess, ok := srv.Manager().Get("s1")
	require.True(t, ok)
	require.Equal(t, "Hi", sess.Snapshot().Messages[1].Text)
}

func TestRecentKeys_EvictsOldest(t *testing.T) {
	k := newRecentKeys()
	require.True(t, k.Remember("first"))
	require.False(t, k.Remember("first"))
	for i := 0; i < recentKeysPerSession; i++ {
		require.True(t, k.Remember("key-"+strconv.Itoa(i)))
	}
	require.True(t, k.Remember("first"))
}
