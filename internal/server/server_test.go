package server

import (
	"context"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/gorilla/websocket"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/cowrite/cowrite/internal/auth"
	"github.com/cowrite/cowrite/internal/client"
	"github.com/cowrite/cowrite/internal/common"
	"github.com/cowrite/cowrite/internal/ot"
	"github.com/cowrite/cowrite/internal/store"
)

func startTestServer(t *testing.T) (*httptest.Server, *Server, *auth.Service) {
	t.Helper()
	st := store.NewMemory()
	authSvc := auth.NewService([]byte("test-secret"), st)
	srv := New(st, authSvc, Options{
		HeartbeatInterval: 50 * time.Millisecond,
		CompactInterval:   time.Hour,
	})
	ts := httptest.NewServer(srv.Router())
	t.Cleanup(func() {
		srv.Close()
		ts.Close()
	})
	return ts, srv, authSvc
}

func wsURL(t *testing.T, ts *httptest.Server, authSvc *auth.Service, doc string) string {
	t.Helper()
	token, err := authSvc.Sign("tester")
	require.NoError(t, err)
	return "ws" + strings.TrimPrefix(ts.URL, "http") + "/ws/" + doc + "?token=" + token
}

func TestWSRejectsBadToken(t *testing.T) {
	ts, _, _ := startTestServer(t)
	url := "ws" + strings.TrimPrefix(ts.URL, "http") + "/ws/doc?token=garbage"
	_, resp, err := websocket.DefaultDialer.Dial(url, nil)
	require.Error(t, err)
	require.NotNil(t, resp)
	assert.Equal(t, 403, resp.StatusCode)
}

func TestFullSyncOnConnectIsIdempotent(t *testing.T) {
	ts, _, authSvc := startTestServer(t)
	url := wsURL(t, ts, authSvc, "doc")

	read := func() common.Message {
		conn, _, err := websocket.DefaultDialer.Dial(url, nil)
		require.NoError(t, err)
		defer conn.Close()
		var m common.Message
		require.NoError(t, conn.ReadJSON(&m))
		return m
	}

	first, second := read(), read()
	assert.Equal(t, common.FullSync, first.Type)
	assert.Equal(t, first.Revision, second.Revision)
	assert.Equal(t, first.Content, second.Content)
}

func TestInvalidOpKeepsSessionAlive(t *testing.T) {
	ts, _, authSvc := startTestServer(t)
	conn, _, err := websocket.DefaultDialer.Dial(wsURL(t, ts, authSvc, "doc"), nil)
	require.NoError(t, err)
	defer conn.Close()

	var sync common.Message
	require.NoError(t, conn.ReadJSON(&sync))
	require.Equal(t, common.FullSync, sync.Type)

	// Base length 5 against an empty document.
	bad := ot.New().Retain(5)
	require.NoError(t, conn.WriteJSON(common.Message{Type: common.ClientOp, Revision: sync.Revision, Op: bad}))

	deadline := time.Now().Add(2 * time.Second)
	for {
		require.NoError(t, conn.SetReadDeadline(deadline))
		var m common.Message
		require.NoError(t, conn.ReadJSON(&m))
		if m.Type == common.Heartbeat {
			continue
		}
		require.Equal(t, common.Error, m.Type)
		assert.Equal(t, common.CodeOperationInvalid, m.Code)
		break
	}

	// The session still works after the rejection.
	good := ot.New().Insert("ok")
	require.NoError(t, conn.WriteJSON(common.Message{Type: common.ClientOp, Revision: sync.Revision, Op: good}))
	for {
		var m common.Message
		require.NoError(t, conn.ReadJSON(&m))
		if m.Type == common.ServerAck {
			assert.Equal(t, 1, m.Revision)
			break
		}
	}
}

func TestTwoEditorsConverge(t *testing.T) {
	ts, _, authSvc := startTestServer(t)
	ctx := context.Background()

	e1, err := client.Dial(ctx, wsURL(t, ts, authSvc, "doc"))
	require.NoError(t, err)
	defer e1.Close()
	e2, err := client.Dial(ctx, wsURL(t, ts, authSvc, "doc"))
	require.NoError(t, err)
	defer e2.Close()

	require.NoError(t, e1.Edit(ot.New().Insert("hello")))
	require.Eventually(t, func() bool {
		return e2.Text() == "hello"
	}, 2*time.Second, 10*time.Millisecond)

	require.NoError(t, e2.Edit(ot.New().Retain(5).Insert(" world")))
	require.Eventually(t, func() bool {
		return e1.Text() == "hello world" && e2.Text() == "hello world" &&
			e1.State() == client.StateSynchronized && e2.State() == client.StateSynchronized
	}, 2*time.Second, 10*time.Millisecond)

	assert.Equal(t, 2, e1.Revision())
	assert.Equal(t, 2, e2.Revision())
}

func TestConcurrentEditsConverge(t *testing.T) {
	ts, srv, authSvc := startTestServer(t)
	ctx := context.Background()

	e1, err := client.Dial(ctx, wsURL(t, ts, authSvc, "doc"))
	require.NoError(t, err)
	defer e1.Close()
	e2, err := client.Dial(ctx, wsURL(t, ts, authSvc, "doc"))
	require.NoError(t, err)
	defer e2.Close()

	// Both prepend concurrently; the insert tie is settled by commit
	// order, and every replica must agree.
	prepend := func(e *client.Editor, s string) error {
		return e.EditWith(func(text string) *ot.Operation {
			return ot.New().Insert(s).Retain(len([]rune(text)))
		})
	}
	require.NoError(t, prepend(e1, "aaa"))
	require.NoError(t, prepend(e2, "bbb"))

	require.Eventually(t, func() bool {
		eng, err := srv.engine(ctx, "doc")
		if err != nil {
			return false
		}
		rev, content := eng.Snapshot()
		return rev == 2 &&
			e1.Text() == content && e2.Text() == content &&
			e1.State() == client.StateSynchronized && e2.State() == client.StateSynchronized
	}, 2*time.Second, 10*time.Millisecond)

	text := e1.Text()
	assert.Contains(t, []string{"aaabbb", "bbbaaa"}, text)

	// Each session had exactly one op committed and acked.
	srv.mu.RLock()
	for _, sess := range srv.sessions["doc"] {
		assert.Positive(t, sess.LastAcked())
	}
	srv.mu.RUnlock()
}

func TestHeartbeatMeasuresLatency(t *testing.T) {
	ts, srv, authSvc := startTestServer(t)

	e, err := client.Dial(context.Background(), wsURL(t, ts, authSvc, "doc"),
		client.WithHeartbeatInterval(20*time.Millisecond))
	require.NoError(t, err)
	defer e.Close()

	// The editor pings and records its own RTT from the ack.
	require.Eventually(t, func() bool {
		return e.Latency() > 0
	}, 2*time.Second, 20*time.Millisecond)

	// The server pings too and records a latency per session.
	require.Eventually(t, func() bool {
		srv.mu.RLock()
		defer srv.mu.RUnlock()
		for _, sess := range srv.sessions["doc"] {
			if sess.Latency() > 0 {
				return true
			}
		}
		return false
	}, 2*time.Second, 20*time.Millisecond)
}
