package notify

import (
	"context"
	"encoding/json"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/coder/websocket"
	"github.com/stellarlinkco/focusdo/internal/config"
	"github.com/stellarlinkco/focusdo/internal/tasks"
)

type fakeControl struct {
	mu      sync.Mutex
	started []tasks.Ref
	paused  int
	stopped []bool
	accept  bool
}

func (c *fakeControl) StartTimer(ref tasks.Ref) bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.started = append(c.started, ref)
	return c.accept
}

func (c *fakeControl) PauseTimer() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.paused++
	return c.accept
}

func (c *fakeControl) StopTimer(finished bool) bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.stopped = append(c.stopped, finished)
	return c.accept
}

func (c *fakeControl) setAccept(v bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.accept = v
}

func staticState() any {
	return map[string]any{"active": 3}
}

func newTestWebUI(t *testing.T) (*WebUIChannel, *httptest.Server) {
	t.Helper()
	ch, err := NewWebUIChannel(config.WebUIConfig{Enabled: true}, staticState)
	if err != nil {
		t.Fatalf("NewWebUIChannel: %v", err)
	}
	srv := httptest.NewServer(ch.Handler())
	t.Cleanup(srv.Close)
	return ch, srv
}

func TestNewWebUIChannel(t *testing.T) {
	ch, err := NewWebUIChannel(config.WebUIConfig{Port: 1234}, staticState)
	if err != nil {
		t.Fatalf("NewWebUIChannel: %v", err)
	}
	if ch.Name() != "webui" {
		t.Errorf("Name() = %q, want %q", ch.Name(), "webui")
	}
	if ch.Addr() != "127.0.0.1:1234" {
		t.Errorf("Addr() = %q", ch.Addr())
	}
	if _, err := NewWebUIChannel(config.WebUIConfig{Port: -1}, staticState); err == nil {
		t.Error("expected error for negative port")
	}
}

func TestWebUIChannel_StateAndIndex(t *testing.T) {
	_, srv := newTestWebUI(t)

	resp, err := http.Get(srv.URL + "/api/state")
	if err != nil {
		t.Fatalf("GET /api/state: %v", err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("status = %d", resp.StatusCode)
	}
	var st map[string]any
	if err := json.NewDecoder(resp.Body).Decode(&st); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if st["active"] != float64(3) {
		t.Errorf("state = %v", st)
	}

	index, err := http.Get(srv.URL + "/")
	if err != nil {
		t.Fatalf("GET /: %v", err)
	}
	defer index.Body.Close()
	body, _ := io.ReadAll(index.Body)
	if index.StatusCode != http.StatusOK || !strings.Contains(string(body), "focusdo") {
		t.Errorf("GET / = %d", index.StatusCode)
	}
}

func TestWebUIChannel_TimerRoutesWithoutControl(t *testing.T) {
	_, srv := newTestWebUI(t)

	resp, err := http.Post(srv.URL+"/api/timer/pause", "", nil)
	if err != nil {
		t.Fatal(err)
	}
	resp.Body.Close()
	if resp.StatusCode != http.StatusNotImplemented {
		t.Errorf("status = %d, want 501", resp.StatusCode)
	}
}

func TestWebUIChannel_TimerRoutes(t *testing.T) {
	ch, err := NewWebUIChannel(config.WebUIConfig{Enabled: true}, staticState)
	if err != nil {
		t.Fatal(err)
	}
	ctrl := &fakeControl{accept: true}
	ch.SetControl(ctrl)
	srv := httptest.NewServer(ch.Handler())
	defer srv.Close()

	post := func(path string) int {
		t.Helper()
		resp, err := http.Post(srv.URL+path, "", nil)
		if err != nil {
			t.Fatalf("POST %s: %v", path, err)
		}
		resp.Body.Close()
		return resp.StatusCode
	}

	for _, path := range []string{"/api/timer/start/42", "/api/timer/start/42/7", "/api/timer/pause", "/api/timer/stop?finished=true"} {
		if code := post(path); code != http.StatusOK {
			t.Errorf("POST %s = %d", path, code)
		}
	}

	ctrl.mu.Lock()
	if len(ctrl.started) != 2 || ctrl.started[0] != (tasks.Ref{TaskID: 42}) || ctrl.started[1] != (tasks.Ref{TaskID: 42, SubtaskID: 7}) {
		t.Errorf("started = %+v", ctrl.started)
	}
	if ctrl.paused != 1 || len(ctrl.stopped) != 1 || !ctrl.stopped[0] {
		t.Errorf("paused=%d stopped=%v", ctrl.paused, ctrl.stopped)
	}
	ctrl.mu.Unlock()

	if code := post("/api/timer/start/abc"); code != http.StatusBadRequest {
		t.Errorf("bad id status = %d", code)
	}

	ctrl.setAccept(false)
	if code := post("/api/timer/pause"); code != http.StatusConflict {
		t.Errorf("rejected action status = %d", code)
	}
}

func TestWebUIChannel_RejectsCrossOrigin(t *testing.T) {
	ch, err := NewWebUIChannel(config.WebUIConfig{Enabled: true}, staticState)
	if err != nil {
		t.Fatal(err)
	}
	ctrl := &fakeControl{accept: true}
	ch.SetControl(ctrl)
	srv := httptest.NewServer(ch.Handler())
	defer srv.Close()
	host := strings.TrimPrefix(srv.URL, "http://")

	post := func(path string, header map[string]string) int {
		t.Helper()
		req, err := http.NewRequest(http.MethodPost, srv.URL+path, nil)
		if err != nil {
			t.Fatal(err)
		}
		for k, v := range header {
			req.Header.Set(k, v)
		}
		resp, err := http.DefaultClient.Do(req)
		if err != nil {
			t.Fatalf("POST %s: %v", path, err)
		}
		resp.Body.Close()
		return resp.StatusCode
	}

	tests := []struct {
		name   string
		header map[string]string
		want   int
	}{
		{"foreign origin", map[string]string{"Origin": "http://evil.example"}, http.StatusForbidden},
		{"opaque origin", map[string]string{"Origin": "null"}, http.StatusForbidden},
		{"cross-site fetch", map[string]string{"Sec-Fetch-Site": "cross-site"}, http.StatusForbidden},
		{"same-site fetch", map[string]string{"Sec-Fetch-Site": "same-site", "Origin": "http://other." + host}, http.StatusForbidden},
		{"same origin", map[string]string{"Origin": "http://" + host, "Sec-Fetch-Site": "same-origin"}, http.StatusOK},
		{"non-browser client", nil, http.StatusOK},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			ctrl.mu.Lock()
			before := ctrl.paused
			ctrl.mu.Unlock()

			if code := post("/api/timer/pause", tt.header); code != tt.want {
				t.Errorf("status = %d, want %d", code, tt.want)
			}

			ctrl.mu.Lock()
			called := ctrl.paused != before
			ctrl.mu.Unlock()
			if called != (tt.want == http.StatusOK) {
				t.Errorf("control called = %v", called)
			}
		})
	}

	if code := post("/api/timer/start/42", map[string]string{"Origin": "http://evil.example"}); code != http.StatusForbidden {
		t.Errorf("cross-origin start = %d", code)
	}
	ctrl.mu.Lock()
	if len(ctrl.started) != 0 {
		t.Errorf("started = %+v, want none", ctrl.started)
	}
	ctrl.mu.Unlock()
}

func TestWebUIChannel_WebSocketRejectsCrossOrigin(t *testing.T) {
	_, srv := newTestWebUI(t)

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	opts := &websocket.DialOptions{HTTPHeader: http.Header{"Origin": []string{"http://evil.example"}}}
	conn, resp, err := websocket.Dial(ctx, "ws"+strings.TrimPrefix(srv.URL, "http")+"/ws", opts)
	if err == nil {
		conn.CloseNow()
		t.Fatal("cross-origin websocket should be refused")
	}
	if resp != nil && resp.StatusCode != http.StatusForbidden {
		t.Errorf("status = %d, want 403", resp.StatusCode)
	}
}

func readFrame(t *testing.T, ctx context.Context, conn *websocket.Conn) wsFrame {
	t.Helper()
	_, data, err := conn.Read(ctx)
	if err != nil {
		t.Fatalf("ws read: %v", err)
	}
	var f wsFrame
	if err := json.Unmarshal(data, &f); err != nil {
		t.Fatalf("decode frame: %v", err)
	}
	return f
}

func TestWebUIChannel_WebSocketBroadcast(t *testing.T) {
	ch, srv := newTestWebUI(t)

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	conn, _, err := websocket.Dial(ctx, "ws"+strings.TrimPrefix(srv.URL, "http")+"/ws", nil)
	if err != nil {
		t.Fatalf("ws dial: %v", err)
	}
	defer conn.CloseNow()

	// The first frame is the current state, sent once the client is registered
	if f := readFrame(t, ctx, conn); f.Type != "state" {
		t.Fatalf("first frame type = %q, want state", f.Type)
	}

	if err := ch.Send(Notification{Kind: KindTimerExpired, Title: "Time's up", Body: "Time's up for: A"}); err != nil {
		t.Fatalf("Send: %v", err)
	}
	f := readFrame(t, ctx, conn)
	if f.Type != "notification" || f.Notification == nil || f.Notification.Body != "Time's up for: A" {
		t.Errorf("notification frame = %+v", f)
	}

	if err := ch.PublishState(map[string]int{"active": 1}); err != nil {
		t.Fatalf("PublishState: %v", err)
	}
	f = readFrame(t, ctx, conn)
	if f.Type != "state" {
		t.Errorf("state frame = %+v", f)
	}
}

func TestWebUIChannel_StartStop(t *testing.T) {
	ch, err := NewWebUIChannel(config.WebUIConfig{Host: "127.0.0.1", Port: 0}, staticState)
	if err != nil {
		t.Fatal(err)
	}
	if err := ch.Start(context.Background()); err != nil {
		t.Fatalf("Start: %v", err)
	}

	resp, err := http.Get("http://" + ch.Addr() + "/api/state")
	if err != nil {
		t.Fatalf("GET /api/state: %v", err)
	}
	resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		t.Errorf("status = %d", resp.StatusCode)
	}

	if err := ch.Stop(); err != nil {
		t.Fatalf("Stop: %v", err)
	}
}
