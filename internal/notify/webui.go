package notify

import (
	"context"
	"embed"
	"encoding/json"
	"fmt"
	"io/fs"
	"log"
	"net"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"github.com/coder/websocket"
	"github.com/gorilla/mux"
	"github.com/stellarlinkco/focusdo/internal/config"
	"github.com/stellarlinkco/focusdo/internal/tasks"
)

//go:embed static
var staticFiles embed.FS

const webUIChannelName = "webui"

// TimerControl is the timer surface exposed over HTTP.
type TimerControl interface {
	StartTimer(ref tasks.Ref) bool
	PauseTimer() bool
	StopTimer(finished bool) bool
}

type wsFrame struct {
	Type         string        `json:"type"`
	Notification *Notification `json:"notification,omitempty"`
	State        any           `json:"state,omitempty"`
}

type wsClient struct {
	conn *websocket.Conn
	id   string
}

// WebUIChannel serves a live view of the tracker and streams frames to websocket clients.
type WebUIChannel struct {
	addr    string
	state   StateFunc
	control TimerControl

	mu       sync.Mutex
	server   *http.Server
	listener net.Listener
	clients  sync.Map
	nextID   atomic.Int64
}

func NewWebUIChannel(cfg config.WebUIConfig, state StateFunc) (*WebUIChannel, error) {
	if state == nil {
		return nil, fmt.Errorf("webui state provider is required")
	}
	host := cfg.Host
	if host == "" {
		host = config.DefaultHost
	}
	port := cfg.Port
	if port < 0 {
		return nil, fmt.Errorf("invalid webui port %d", port)
	}
	return &WebUIChannel{
		addr:  net.JoinHostPort(host, strconv.Itoa(port)),
		state: state,
	}, nil
}

func (w *WebUIChannel) Name() string { return webUIChannelName }

// SetControl enables the timer routes.
func (w *WebUIChannel) SetControl(c TimerControl) {
	w.control = c
}

// Handler returns the router: static page, state API, timer controls and the websocket.
func (w *WebUIChannel) Handler() http.Handler {
	r := mux.NewRouter()
	r.HandleFunc("/api/state", w.handleState).Methods(http.MethodGet)
	r.Handle("/api/timer/start/{taskID}", sameOrigin(w.handleStart)).Methods(http.MethodPost)
	r.Handle("/api/timer/start/{taskID}/{subtaskID}", sameOrigin(w.handleStart)).Methods(http.MethodPost)
	r.Handle("/api/timer/pause", sameOrigin(w.handlePause)).Methods(http.MethodPost)
	r.Handle("/api/timer/stop", sameOrigin(w.handleStop)).Methods(http.MethodPost)
	r.HandleFunc("/ws", w.handleWS)

	if staticFS, err := fs.Sub(staticFiles, "static"); err == nil {
		r.PathPrefix("/").Handler(http.FileServer(http.FS(staticFS))).Methods(http.MethodGet)
	} else {
		log.Printf("[webui] warning: embed static fs: %v", err)
	}
	return r
}

func (w *WebUIChannel) Start(ctx context.Context) error {
	ln, err := net.Listen("tcp", w.addr)
	if err != nil {
		return fmt.Errorf("listen %s: %w", w.addr, err)
	}

	w.mu.Lock()
	w.listener = ln
	w.server = &http.Server{
		Handler:           w.Handler(),
		ReadHeaderTimeout: 10 * time.Second,
	}
	server := w.server
	w.mu.Unlock()

	go func() {
		log.Printf("[webui] listening on %s", ln.Addr())
		if err := server.Serve(ln); err != nil && err != http.ErrServerClosed {
			log.Printf("[webui] server error: %v", err)
		}
	}()

	return nil
}

// Addr reports the bound address once started, else the configured one.
func (w *WebUIChannel) Addr() string {
	w.mu.Lock()
	defer w.mu.Unlock()
	if w.listener != nil {
		return w.listener.Addr().String()
	}
	return w.addr
}

// sameOrigin rejects timer actions a browser sends on behalf of another site.
func sameOrigin(next http.HandlerFunc) http.Handler {
	return http.HandlerFunc(func(wr http.ResponseWriter, r *http.Request) {
		if !isSameOrigin(r) {
			log.Printf("[webui] rejected cross-origin %s %s (origin %q)", r.Method, r.URL.Path, r.Header.Get("Origin"))
			http.Error(wr, "cross-origin request rejected", http.StatusForbidden)
			return
		}
		next(wr, r)
	})
}

func isSameOrigin(r *http.Request) bool {
	switch r.Header.Get("Sec-Fetch-Site") {
	case "", "same-origin", "none":
	default:
		return false
	}
	origin := r.Header.Get("Origin")
	if origin == "" {
		return true
	}
	u, err := url.Parse(origin)
	if err != nil {
		return false
	}
	return strings.EqualFold(u.Host, r.Host)
}

func writeJSON(wr http.ResponseWriter, status int, v any) {
	wr.Header().Set("Content-Type", "application/json")
	wr.WriteHeader(status)
	if err := json.NewEncoder(wr).Encode(v); err != nil {
		log.Printf("[webui] encode response: %v", err)
	}
}

func (w *WebUIChannel) handleState(wr http.ResponseWriter, r *http.Request) {
	writeJSON(wr, http.StatusOK, w.state())
}

// afterControl answers a timer action with the new state and broadcasts it.
func (w *WebUIChannel) afterControl(wr http.ResponseWriter, ok bool) {
	st := w.state()
	if ok {
		if err := w.PublishState(st); err != nil {
			log.Printf("[webui] publish state: %v", err)
		}
		writeJSON(wr, http.StatusOK, st)
		return
	}
	writeJSON(wr, http.StatusConflict, st)
}

func (w *WebUIChannel) handleStart(wr http.ResponseWriter, r *http.Request) {
	if w.control == nil {
		http.Error(wr, "timer control unavailable", http.StatusNotImplemented)
		return
	}
	vars := mux.Vars(r)
	taskID, err := strconv.ParseInt(vars["taskID"], 10, 64)
	if err != nil {
		http.Error(wr, "invalid task id", http.StatusBadRequest)
		return
	}
	ref := tasks.Ref{TaskID: taskID}
	if raw, ok := vars["subtaskID"]; ok {
		subID, err := strconv.ParseInt(raw, 10, 64)
		if err != nil {
			http.Error(wr, "invalid subtask id", http.StatusBadRequest)
			return
		}
		ref.SubtaskID = subID
	}
	w.afterControl(wr, w.control.StartTimer(ref))
}

func (w *WebUIChannel) handlePause(wr http.ResponseWriter, r *http.Request) {
	if w.control == nil {
		http.Error(wr, "timer control unavailable", http.StatusNotImplemented)
		return
	}
	w.afterControl(wr, w.control.PauseTimer())
}

func (w *WebUIChannel) handleStop(wr http.ResponseWriter, r *http.Request) {
	if w.control == nil {
		http.Error(wr, "timer control unavailable", http.StatusNotImplemented)
		return
	}
	finished := r.URL.Query().Get("finished") == "true"
	w.afterControl(wr, w.control.StopTimer(finished))
}

func (w *WebUIChannel) handleWS(wr http.ResponseWriter, r *http.Request) {
	// Accept rejects an Origin whose host differs from the request host.
	conn, err := websocket.Accept(wr, r, nil)
	if err != nil {
		log.Printf("[webui] websocket accept error: %v", err)
		return
	}

	clientID := fmt.Sprintf("webui-%d", w.nextID.Add(1))
	client := &wsClient{conn: conn, id: clientID}
	w.clients.Store(clientID, client)
	log.Printf("[webui] client connected: %s", clientID)

	defer func() {
		w.clients.Delete(clientID)
		conn.CloseNow()
		log.Printf("[webui] client disconnected: %s", clientID)
	}()

	if err := w.write(r.Context(), client, wsFrame{Type: "state", State: w.state()}); err != nil {
		return
	}

	// Clients only listen; reading detects the close.
	for {
		if _, _, err := conn.Read(r.Context()); err != nil {
			return
		}
	}
}

func (w *WebUIChannel) write(ctx context.Context, c *wsClient, frame wsFrame) error {
	data, err := json.Marshal(frame)
	if err != nil {
		return err
	}
	ctx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()
	return c.conn.Write(ctx, websocket.MessageText, data)
}

func (w *WebUIChannel) broadcast(frame wsFrame) error {
	data, err := json.Marshal(frame)
	if err != nil {
		return err
	}
	w.clients.Range(func(key, value any) bool {
		c := value.(*wsClient)
		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if err := c.conn.Write(ctx, websocket.MessageText, data); err != nil {
			log.Printf("[webui] write to %s failed: %v", c.id, err)
		}
		return true
	})
	return nil
}

func (w *WebUIChannel) Send(n Notification) error {
	return w.broadcast(wsFrame{Type: "notification", Notification: &n})
}

func (w *WebUIChannel) PublishState(state any) error {
	return w.broadcast(wsFrame{Type: "state", State: state})
}

func (w *WebUIChannel) Stop() error {
	w.mu.Lock()
	server := w.server
	w.server = nil
	w.mu.Unlock()

	if server != nil {
		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if err := server.Shutdown(ctx); err != nil {
			log.Printf("[webui] shutdown error: %v", err)
		}
	}
	w.clients.Range(func(key, value any) bool {
		c := value.(*wsClient)
		c.conn.CloseNow()
		return true
	})
	log.Printf("[webui] stopped")
	return nil
}
