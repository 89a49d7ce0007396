package websocket

import (
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/gorilla/websocket"
	"github.com/vmihailenco/msgpack/v5"

	fluid "github.com/esimov/pic-fluid/fluid-solver"
	"github.com/esimov/pic-fluid/runner"
)

var quiet = log.New(io.Discard, "", 0)

// ---------- helpers ----------

type fakeController struct {
	mu      sync.Mutex
	starts  [][2]int
	stops   int
	err     error
	started chan struct{}
	stopped chan struct{}
}

func newFakeController() *fakeController {
	return &fakeController{
		started: make(chan struct{}, 8),
		stopped: make(chan struct{}, 8),
	}
}

func (f *fakeController) Start(rows, cols int) error {
	f.mu.Lock()
	f.starts = append(f.starts, [2]int{rows, cols})
	err := f.err
	f.mu.Unlock()
	f.started <- struct{}{}
	return err
}

func (f *fakeController) Stop() {
	f.mu.Lock()
	f.stops++
	f.mu.Unlock()
	f.stopped <- struct{}{}
}

// startTestServer spins up an httptest.Server with a Hub and returns the hub,
// the server and its WebSocket URL.
func startTestServer(t *testing.T, ctrl Controller) (*Hub, *httptest.Server, string) {
	t.Helper()

	root := t.TempDir()
	os.WriteFile(filepath.Join(root, "index.html"), []byte("<html>fluid</html>"), 0o644)

	hub := NewHub(ctrl, 16, quiet)
	srv, err := NewServer(HttpParams{Address: "127.0.0.1:0", Prefix: "/", Root: root}, hub, quiet)
	if err != nil {
		t.Fatal(err)
	}
	ts := httptest.NewServer(srv.Handler)
	t.Cleanup(func() {
		hub.Close()
		ts.Close()
	})

	wsURL := "ws" + strings.TrimPrefix(ts.URL, "http") + "/ws"
	return hub, ts, wsURL
}

func dialWS(t *testing.T, url string) *websocket.Conn {
	t.Helper()
	conn, _, err := websocket.DefaultDialer.Dial(url, nil)
	if err != nil {
		t.Fatalf("dial WS: %v", err)
	}
	t.Cleanup(func() { conn.Close() })
	return conn
}

func waitFor(t *testing.T, ch <-chan struct{}, what string) {
	t.Helper()
	select {
	case <-ch:
	case <-time.After(2 * time.Second):
		t.Fatalf("timed out waiting for %s", what)
	}
}

func waitClients(t *testing.T, hub *Hub, n int) {
	t.Helper()
	deadline := time.Now().Add(2 * time.Second)
	for hub.Len() != n {
		if time.Now().After(deadline) {
			t.Fatalf("hub has %d clients, want %d", hub.Len(), n)
		}
		time.Sleep(5 * time.Millisecond)
	}
}

func testFrame(step uint64) runner.Frame {
	grid := fluid.NewOccupancy(2, 3)
	grid[1][2] = 4
	grid[0][0] = 1
	return runner.Frame{Step: step, Rows: 2, Cols: 3, Grid: grid}
}

// ---------- tests ----------

func TestServesStaticFiles(t *testing.T) {
	_, ts, _ := startTestServer(t, newFakeController())

	resp, err := http.Get(ts.URL + "/index.html")
	if err != nil {
		t.Fatal(err)
	}
	defer resp.Body.Close()
	body, _ := io.ReadAll(resp.Body)
	if resp.StatusCode != http.StatusOK || !strings.Contains(string(body), "fluid") {
		t.Errorf("GET /index.html = %d %q", resp.StatusCode, body)
	}
}

func TestStartStopCommands(t *testing.T) {
	ctrl := newFakeController()
	_, _, url := startTestServer(t, ctrl)
	conn := dialWS(t, url)

	if err := conn.WriteJSON(Command{Cmd: CmdStart, Rows: 12, Cols: 34}); err != nil {
		t.Fatal(err)
	}
	waitFor(t, ctrl.started, "start")

	if err := conn.WriteJSON(Command{Cmd: CmdStop}); err != nil {
		t.Fatal(err)
	}
	waitFor(t, ctrl.stopped, "stop")

	ctrl.mu.Lock()
	defer ctrl.mu.Unlock()
	if len(ctrl.starts) != 1 || ctrl.starts[0] != [2]int{12, 34} {
		t.Errorf("starts = %v, want [[12 34]]", ctrl.starts)
	}
	if ctrl.stops != 1 {
		t.Errorf("stops = %d, want 1", ctrl.stops)
	}
}

func TestStartErrorIsReported(t *testing.T) {
	ctrl := newFakeController()
	ctrl.err = errors.New("fluid: rows and cols must be positive")
	_, _, url := startTestServer(t, ctrl)
	conn := dialWS(t, url)

	conn.WriteJSON(Command{Cmd: CmdStart})
	waitFor(t, ctrl.started, "start")

	var ev Event
	conn.SetReadDeadline(time.Now().Add(2 * time.Second))
	if err := conn.ReadJSON(&ev); err != nil {
		t.Fatal(err)
	}
	if ev.Event != EventError || !strings.Contains(ev.Message, "positive") {
		t.Errorf("event = %+v", ev)
	}
}

func TestStartRejectsHugeGrid(t *testing.T) {
	tests := []struct {
		name       string
		rows, cols int
	}{
		{"square", 4096, 4096},
		{"product wraps to zero", 4, 1 << 62},
		{"product wraps negative", 1 << 32, 1<<31 + 1},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			ctrl := newFakeController()
			_, _, url := startTestServer(t, ctrl)
			conn := dialWS(t, url)

			conn.WriteJSON(Command{Cmd: CmdStart, Rows: tt.rows, Cols: tt.cols})

			var ev Event
			conn.SetReadDeadline(time.Now().Add(2 * time.Second))
			if err := conn.ReadJSON(&ev); err != nil {
				t.Fatal(err)
			}
			if ev.Event != EventError || !strings.Contains(ev.Message, "exceeds") {
				t.Errorf("event = %+v", ev)
			}
			select {
			case <-ctrl.started:
				t.Error("controller started for an oversized grid")
			default:
			}
		})
	}
}

func TestUnknownCommand(t *testing.T) {
	_, _, url := startTestServer(t, newFakeController())
	conn := dialWS(t, url)

	conn.WriteMessage(websocket.TextMessage, []byte(`{"cmd":"explode"}`))

	var ev Event
	conn.SetReadDeadline(time.Now().Add(2 * time.Second))
	if err := conn.ReadJSON(&ev); err != nil {
		t.Fatal(err)
	}
	if ev.Event != EventError || !strings.Contains(ev.Message, "explode") {
		t.Errorf("event = %+v", ev)
	}
}

func TestEmitJSONFrames(t *testing.T) {
	hub, _, url := startTestServer(t, newFakeController())
	conn := dialWS(t, url)
	waitClients(t, hub, 1)

	for step := uint64(1); step <= 3; step++ {
		if err := hub.Emit(testFrame(step)); err != nil {
			t.Fatal(err)
		}
	}

	for i := 0; i < 3; i++ {
		conn.SetReadDeadline(time.Now().Add(2 * time.Second))
		msgType, data, err := conn.ReadMessage()
		if err != nil {
			t.Fatal(err)
		}
		if msgType != websocket.TextMessage {
			t.Errorf("message type = %d, want text", msgType)
		}
		want := `{"event":"update_grid","payload":{"data":[[1,0,0],[0,0,4]]}}`
		if string(data) != want {
			t.Errorf("frame = %s, want %s", data, want)
		}

		var raw map[string]json.RawMessage
		json.Unmarshal(data, &raw)
		if _, ok := raw["message"]; ok {
			t.Error("update_grid carries a message field")
		}
	}
}

func TestEmitMsgpackFrames(t *testing.T) {
	hub, _, url := startTestServer(t, newFakeController())
	conn := dialWS(t, url+"?format=msgpack")
	waitClients(t, hub, 1)

	if err := hub.Emit(testFrame(1)); err != nil {
		t.Fatal(err)
	}

	conn.SetReadDeadline(time.Now().Add(2 * time.Second))
	msgType, data, err := conn.ReadMessage()
	if err != nil {
		t.Fatal(err)
	}
	if msgType != websocket.BinaryMessage {
		t.Errorf("message type = %d, want binary", msgType)
	}
	var ev Event
	if err := msgpack.Unmarshal(data, &ev); err != nil {
		t.Fatal(err)
	}
	if ev.Event != EventUpdateGrid || ev.Payload == nil || ev.Payload.Data[1][2] != 4 {
		t.Errorf("event = %+v", ev)
	}

	// Rows travel as integer arrays, the same shape as the JSON payload.
	var generic map[string]interface{}
	if err := msgpack.Unmarshal(data, &generic); err != nil {
		t.Fatal(err)
	}
	payload, _ := generic["payload"].(map[string]interface{})
	rows, ok := payload["data"].([]interface{})
	if !ok || len(rows) != 2 {
		t.Fatalf("payload data = %#v, want two rows", payload["data"])
	}
	row, ok := rows[1].([]interface{})
	if !ok || len(row) != 3 {
		t.Fatalf("row = %#v, want an array of 3 integers", rows[1])
	}
	if fmt.Sprint(row[2]) != "4" {
		t.Errorf("cell = %#v, want 4", row[2])
	}
}

func TestMsgpackCommand(t *testing.T) {
	ctrl := newFakeController()
	_, _, url := startTestServer(t, ctrl)
	conn := dialWS(t, url+"?format=msgpack")

	data, err := msgpack.Marshal(Command{Cmd: CmdStart, Rows: 3, Cols: 4})
	if err != nil {
		t.Fatal(err)
	}
	conn.WriteMessage(websocket.BinaryMessage, data)
	waitFor(t, ctrl.started, "start")

	ctrl.mu.Lock()
	defer ctrl.mu.Unlock()
	if ctrl.starts[0] != [2]int{3, 4} {
		t.Errorf("starts = %v", ctrl.starts)
	}
}

func TestRejectsUnknownFormat(t *testing.T) {
	_, _, url := startTestServer(t, newFakeController())
	_, resp, err := websocket.DefaultDialer.Dial(url+"?format=xml", nil)
	if err == nil {
		t.Fatal("dial succeeded with an unknown format")
	}
	if resp == nil || resp.StatusCode != http.StatusBadRequest {
		t.Errorf("response = %v, want 400", resp)
	}
}

func TestSlowClientIsDisconnected(t *testing.T) {
	hub := NewHub(newFakeController(), 1, quiet)
	c := &Client{hub: hub, format: FormatJSON, send: make(chan []byte, 1)}
	hub.register(c)

	if err := hub.Emit(testFrame(1)); err != nil {
		t.Fatal(err)
	}
	if hub.Len() != 1 {
		t.Fatalf("client dropped with room in its queue")
	}
	if err := hub.Emit(testFrame(2)); err != nil {
		t.Fatal(err)
	}
	if hub.Len() != 0 {
		t.Errorf("slow client still registered")
	}

	// The queued frame is still delivered, then the queue is closed.
	if _, ok := <-c.send; !ok {
		t.Error("queued frame lost")
	}
	if _, ok := <-c.send; ok {
		t.Error("queue not closed")
	}
}

func TestClosedHubIgnoresCommands(t *testing.T) {
	ctrl := newFakeController()
	hub := NewHub(ctrl, 1, quiet)
	c := &Client{hub: hub, format: FormatJSON, send: make(chan []byte, 1)}
	hub.register(c)
	hub.Close()

	hub.handle(c, Command{Cmd: CmdStart, Rows: 2, Cols: 2})
	hub.handle(c, Command{Cmd: CmdStop})

	ctrl.mu.Lock()
	defer ctrl.mu.Unlock()
	if len(ctrl.starts) != 0 || ctrl.stops != 0 {
		t.Errorf("closed hub routed commands: starts %v, stops %d", ctrl.starts, ctrl.stops)
	}
}

func TestParseFormat(t *testing.T) {
	tests := []struct {
		in   string
		want Format
		err  bool
	}{
		{"", FormatJSON, false},
		{"json", FormatJSON, false},
		{"msgpack", FormatMsgpack, false},
		{"yaml", FormatJSON, true},
	}
	for _, tt := range tests {
		got, err := ParseFormat(tt.in)
		if got != tt.want || (err != nil) != tt.err {
			t.Errorf("ParseFormat(%q) = %v, %v", tt.in, got, err)
		}
	}
}
