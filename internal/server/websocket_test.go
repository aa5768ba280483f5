package server

import (
	"encoding/json"
	"net/http"
	"strings"
	"testing"
	"time"

	"github.com/gorilla/websocket"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/livetemplate/lessonview/internal/clipboard"
	"github.com/livetemplate/lessonview/internal/clock"
)

const liveLesson = `title: Live
sections:
  - id: basics
    items:
      - type: code
        content: x := 1
        language: go
      - type: terminal
        content: go test ./...
        output: all tests passed
      - type: interactive
        component: counter
      - type: paragraph
        content: Just text.
`

func dialLesson(t *testing.T, baseURL, pattern string) *websocket.Conn {
	t.Helper()
	url := "ws" + strings.TrimPrefix(baseURL, "http") + "/ws?lesson=" + pattern
	conn, _, err := websocket.DefaultDialer.Dial(url, nil)
	require.NoError(t, err)
	t.Cleanup(func() { conn.Close() })
	return conn
}

// readUntil reads messages until match accepts one.
func readUntil(t *testing.T, conn *websocket.Conn, match func(MessageEnvelope) bool) MessageEnvelope {
	t.Helper()
	require.NoError(t, conn.SetReadDeadline(time.Now().Add(5*time.Second)))
	for {
		var env MessageEnvelope
		require.NoError(t, conn.ReadJSON(&env), "no matching message before deadline")
		if match(env) {
			return env
		}
	}
}

func updateContaining(blockID, fragment string) func(MessageEnvelope) bool {
	return func(env MessageEnvelope) bool {
		if env.Action != "update" || env.BlockID != blockID {
			return false
		}
		var u blockUpdate
		if err := json.Unmarshal(env.Data, &u); err != nil {
			return false
		}
		return strings.Contains(u.HTML, fragment)
	}
}

func sendAction(t *testing.T, conn *websocket.Conn, blockID, action string, data any) {
	t.Helper()
	raw, err := json.Marshal(data)
	require.NoError(t, err)
	require.NoError(t, conn.WriteJSON(MessageEnvelope{BlockID: blockID, Action: action, Data: raw}))
}

func TestWebSocketUnknownLesson(t *testing.T) {
	_, ts := newTestServer(t, map[string]string{"live.yaml": liveLesson})

	url := "ws" + strings.TrimPrefix(ts.URL, "http") + "/ws?lesson=/nope"
	_, resp, err := websocket.DefaultDialer.Dial(url, nil)
	require.Error(t, err)
	require.NotNil(t, resp)
	assert.Equal(t, http.StatusNotFound, resp.StatusCode)
}

func TestWebSocketSendsBlocksOnConnect(t *testing.T) {
	srv, ts := newTestServer(t, map[string]string{"live.yaml": liveLesson})
	conn := dialLesson(t, ts.URL, "/live")

	// The widget may settle before or after the initial pass.
	text, widget := updateContaining("basics-3", "Just text."), updateContaining("basics-2", "<output>0</output>")
	var sawText, sawWidget bool
	readUntil(t, conn, func(env MessageEnvelope) bool {
		sawText = sawText || text(env)
		sawWidget = sawWidget || widget(env)
		return sawText && sawWidget
	})
	assert.Eventually(t, func() bool { return srv.SessionCount() == 1 }, time.Second, 10*time.Millisecond)
}

func TestWebSocketWidgetAction(t *testing.T) {
	_, ts := newTestServer(t, map[string]string{"live.yaml": liveLesson})
	conn := dialLesson(t, ts.URL, "/live")
	readUntil(t, conn, updateContaining("basics-2", "<output>0</output>"))

	sendAction(t, conn, "basics-2", "increment", nil)
	sendAction(t, conn, "basics-2", "increment", nil)
	readUntil(t, conn, updateContaining("basics-2", "<output>2</output>"))

	// Actions on unknown blocks are dropped without closing the channel.
	sendAction(t, conn, "nope-9", "increment", nil)
	sendAction(t, conn, "basics-2", "reset", nil)
	readUntil(t, conn, updateContaining("basics-2", "<output>0</output>"))
}

func TestWebSocketTerminalRun(t *testing.T) {
	fake := clock.NewFake()
	_, ts := newTestServer(t, map[string]string{"live.yaml": liveLesson}, WithClock(fake))
	conn := dialLesson(t, ts.URL, "/live")
	readUntil(t, conn, updateContaining("basics-3", "Just text."))

	sendAction(t, conn, "basics-1", "run", nil)
	readUntil(t, conn, updateContaining("basics-1", `aria-busy="true"`))

	require.Eventually(t, func() bool { return fake.Pending() > 0 }, time.Second, 5*time.Millisecond)
	fake.Advance(700 * time.Millisecond)
	readUntil(t, conn, updateContaining("basics-1", "all tests passed"))
}

func TestWebSocketCopyUsesBrowserClipboard(t *testing.T) {
	fake := clock.NewFake()
	_, ts := newTestServer(t, map[string]string{"live.yaml": liveLesson}, WithClock(fake))
	conn := dialLesson(t, ts.URL, "/live")
	readUntil(t, conn, updateContaining("basics-3", "Just text."))

	sendAction(t, conn, "basics-0", "copy", nil)

	req := readUntil(t, conn, func(env MessageEnvelope) bool { return env.Action == "clipboard" })
	var payload clipboardRequest
	require.NoError(t, json.Unmarshal(req.Data, &payload))
	assert.Equal(t, "x := 1", payload.Text)
	require.NotEmpty(t, payload.RequestID)

	sendAction(t, conn, "", "clipboard-ack", clipboardAck{RequestID: payload.RequestID})
	readUntil(t, conn, updateContaining("basics-0", "Copied!"))

	require.Eventually(t, func() bool { return fake.Pending() > 0 }, time.Second, 5*time.Millisecond)
	fake.Advance(2 * time.Second)
	readUntil(t, conn, func(env MessageEnvelope) bool {
		return updateContaining("basics-0", ">Copy<")(env)
	})
}

func TestWebSocketCopyRejectedByBrowser(t *testing.T) {
	fake := clock.NewFake()
	_, ts := newTestServer(t, map[string]string{"live.yaml": liveLesson}, WithClock(fake))
	conn := dialLesson(t, ts.URL, "/live")
	readUntil(t, conn, updateContaining("basics-3", "Just text."))

	sendAction(t, conn, "basics-0", "copy", nil)
	req := readUntil(t, conn, func(env MessageEnvelope) bool { return env.Action == "clipboard" })
	var payload clipboardRequest
	require.NoError(t, json.Unmarshal(req.Data, &payload))

	sendAction(t, conn, "", "clipboard-ack", clipboardAck{RequestID: payload.RequestID, Error: "NotAllowedError"})

	// The failed copy leaves the panel as it was; the follow-up render
	// still shows the plain Copy button.
	env := readUntil(t, conn, func(env MessageEnvelope) bool { return env.BlockID == "basics-0" })
	var u blockUpdate
	require.NoError(t, json.Unmarshal(env.Data, &u))
	assert.NotContains(t, u.HTML, "Copied!")
	assert.Zero(t, fake.Pending())
}

func TestWebSocketCopyUsesServerClipboard(t *testing.T) {
	mem := &clipboard.Memory{}
	_, ts := newTestServer(t, map[string]string{"live.yaml": liveLesson}, WithClipboard(mem))
	conn := dialLesson(t, ts.URL, "/live")
	readUntil(t, conn, updateContaining("basics-3", "Just text."))

	sendAction(t, conn, "basics-1", "copy", nil)
	readUntil(t, conn, updateContaining("basics-1", "Copied!"))
	assert.Equal(t, "go test ./...", mem.Text())
	assert.Equal(t, 1, mem.Writes())
}

func TestBroadcastReload(t *testing.T) {
	srv, ts := newTestServer(t, map[string]string{"live.yaml": liveLesson})
	conn := dialLesson(t, ts.URL, "/live")
	readUntil(t, conn, updateContaining("basics-3", "Just text."))
	require.Eventually(t, func() bool { return srv.SessionCount() == 1 }, time.Second, 10*time.Millisecond)

	srv.BroadcastReload("live.yaml")
	env := readUntil(t, conn, func(env MessageEnvelope) bool { return env.Action == "reload" })
	assert.JSONEq(t, `{"filePath":"live.yaml"}`, string(env.Data))
}

func TestSessionClosedOnDisconnect(t *testing.T) {
	srv, ts := newTestServer(t, map[string]string{"live.yaml": liveLesson})
	conn := dialLesson(t, ts.URL, "/live")
	readUntil(t, conn, updateContaining("basics-3", "Just text."))
	require.Eventually(t, func() bool { return srv.SessionCount() == 1 }, time.Second, 10*time.Millisecond)

	conn.Close()
	assert.Eventually(t, func() bool { return srv.SessionCount() == 0 }, 2*time.Second, 10*time.Millisecond)
}
