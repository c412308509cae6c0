package web

import (
	"encoding/base64"
	"errors"
	"fmt"
	"log/slog"
	"net"
	"net/http"
	"sync"

	"github.com/gorilla/websocket"
	jsoniter "github.com/json-iterator/go"

	"voiceorb/pkg/api"
	"voiceorb/pkg/gateway"
	"voiceorb/pkg/host"
	"voiceorb/pkg/session"
	"voiceorb/pkg/speech"
	"voiceorb/pkg/speech/local"
	"voiceorb/pkg/utils"
)

var json = jsoniter.ConfigCompatibleWithStandardLibrary

var upgrader = websocket.Upgrader{
	CheckOrigin: func(r *http.Request) bool {
		return true // The widget is embedded on third-party pages
	},
}

// WebConfig is the "web" entry of the channels config block.
type WebConfig struct {
	Port        int    `json:"port"`
	DefaultMode string `json:"default_mode,omitempty"`
}

// WebChannel serves the embeddable widget: the public config and one
// websocket per widget instance, each backed by its own Host.
type WebChannel struct {
	config   WebConfig
	server   *http.Server
	conns    map[*conn]struct{}
	mu       sync.Mutex
	served   chan struct{} // closed when Serve returns
	serveErr error
}

func NewWebChannel(cfg WebConfig) *WebChannel {
	if cfg.DefaultMode == "" {
		cfg.DefaultMode = host.ModeTextChat
	}
	return &WebChannel{
		config: cfg,
		conns:  make(map[*conn]struct{}),
	}
}

func (c *WebChannel) ID() string {
	return "web"
}

// Handler returns the HTTP handler of the widget endpoints.
func (c *WebChannel) Handler(ctx gateway.ChannelContext) http.Handler {
	mux := http.NewServeMux()
	mux.HandleFunc("GET /config", func(w http.ResponseWriter, r *http.Request) {
		c.handleConfig(w, r, ctx)
	})
	mux.HandleFunc("GET /ws", func(w http.ResponseWriter, r *http.Request) {
		c.handleWebSocket(w, r, ctx)
	})
	return mux
}

func (c *WebChannel) Start(ctx gateway.ChannelContext) error {
	addr := fmt.Sprintf(":%d", c.config.Port)
	ln, err := net.Listen("tcp", addr)
	if err != nil {
		return fmt.Errorf("web listen on %s: %w", addr, err)
	}

	c.mu.Lock()
	c.server = &http.Server{Handler: c.Handler(ctx)}
	srv := c.server
	served := make(chan struct{})
	c.served = served
	c.mu.Unlock()

	slog.Info("Web widget API listening", "addr", ln.Addr().String())
	go func() {
		defer close(served)
		if err := srv.Serve(ln); err != nil && !errors.Is(err, http.ErrServerClosed) {
			slog.Error("Web API server error", "error", err)
			c.mu.Lock()
			c.serveErr = err
			c.mu.Unlock()
		}
	}()
	return nil
}

// Wait blocks until the HTTP server stops serving. It returns nil right away
// when the channel was never started.
func (c *WebChannel) Wait() error {
	c.mu.Lock()
	served := c.served
	c.mu.Unlock()
	if served == nil {
		return nil
	}
	<-served

	c.mu.Lock()
	defer c.mu.Unlock()
	return c.serveErr
}

// Stop closes the server and every open widget connection.
func (c *WebChannel) Stop() error {
	c.mu.Lock()
	srv := c.server
	conns := make([]*conn, 0, len(c.conns))
	for wc := range c.conns {
		conns = append(conns, wc)
	}
	c.mu.Unlock()

	var err error
	if srv != nil {
		err = srv.Close()
	}
	// Hijacked websocket connections survive server.Close
	for _, wc := range conns {
		wc.close()
	}
	return err
}

func (c *WebChannel) handleConfig(w http.ResponseWriter, r *http.Request, ctx gateway.ChannelContext) {
	data, err := json.Marshal(ctx.Config().Public())
	if err != nil {
		http.Error(w, "config unavailable", http.StatusInternalServerError)
		return
	}
	w.Header().Set("Content-Type", "application/json")
	w.Header().Set("Access-Control-Allow-Origin", "*")
	w.Write(data)
}

func (c *WebChannel) handleWebSocket(w http.ResponseWriter, r *http.Request, ctx gateway.ChannelContext) {
	rawConn, err := upgrader.Upgrade(w, r, nil)
	if err != nil {
		slog.Error("WS Upgrade failed", "error", err)
		return
	}

	buffer := ctx.System().InternalChannelBuffer
	wc := newConn(&SafeConn{Conn: rawConn}, buffer, ctx)
	go wc.writeLoop()

	c.mu.Lock()
	c.conns[wc] = struct{}{}
	c.mu.Unlock()
	defer func() {
		c.mu.Lock()
		delete(c.conns, wc)
		c.mu.Unlock()
		wc.close()
	}()

	h, err := ctx.NewHost(gateway.HostOptions{
		Surface:  "web",
		Devices:  wc.devices(),
		Observer: wc.observer(),
	})
	if err != nil {
		wc.sendError(err)
		return
	}
	wc.setHost(h)
	slog.Info("Widget connected", "remote", r.RemoteAddr)

	mode := r.URL.Query().Get("mode")
	if mode == "" {
		mode = c.config.DefaultMode
	}
	wc.activate(mode)

	for {
		_, msgBytes, err := wc.ws.ReadMessage()
		if err != nil {
			slog.Debug("Widget disconnected", "remote", r.RemoteAddr, "error", err)
			return
		}
		var frame IncomingFrame
		if err := json.Unmarshal(msgBytes, &frame); err != nil {
			wc.sendError(fmt.Errorf("malformed frame: %w", err))
			continue
		}
		wc.handle(frame)
	}
}

// SafeConn serializes writes to a websocket connection.
type SafeConn struct {
	*websocket.Conn
	mu sync.Mutex
}

func (sc *SafeConn) WriteMessage(messageType int, data []byte) error {
	sc.mu.Lock()
	defer sc.mu.Unlock()
	return sc.Conn.WriteMessage(messageType, data)
}

// conn is one widget instance.
type conn struct {
	ws         *SafeConn
	gw         gateway.ChannelContext
	out        chan OutgoingFrame
	done       chan struct{}
	closeOnce  sync.Once
	feed       *local.FeedRecognizer
	permission chan bool
	speakEnd   chan struct{}

	mu   sync.Mutex
	host *host.Host
}

func newConn(ws *SafeConn, buffer int, gw gateway.ChannelContext) *conn {
	if buffer <= 0 {
		buffer = 100
	}
	return &conn{
		ws:         ws,
		gw:         gw,
		out:        make(chan OutgoingFrame, buffer),
		done:       make(chan struct{}),
		feed:       local.NewFeedRecognizer(buffer),
		permission: make(chan bool, 1),
		speakEnd:   make(chan struct{}, 1),
	}
}

func (c *conn) devices() host.Devices {
	return host.Devices{
		Microphone:  browserMicrophone{c: c},
		Recognizer:  c.feed,
		Synthesizer: browserSynthesizer{c: c},
		Sink:        browserSink{c: c},
	}
}

func (c *conn) observer() api.SessionObserver {
	return api.ObserverFuncs{
		Entry: func(id string, e api.TranscriptEntry) {
			c.send(OutgoingFrame{Type: FrameEntry, Session: id, Entry: &e})
		},
		State: func(id string, s api.ConversationState) {
			c.send(OutgoingFrame{Type: FrameState, Session: id, State: &s})
		},
		Caption: func(id string, caption string) {
			c.send(OutgoingFrame{Type: FrameCaption, Session: id, Caption: &caption})
		},
		Progress: func(id string, percent int) {
			c.send(OutgoingFrame{Type: FrameProgress, Session: id, Percent: &percent})
		},
	}
}

func (c *conn) setHost(h *host.Host) {
	c.mu.Lock()
	c.host = h
	c.mu.Unlock()
}

func (c *conn) getHost() *host.Host {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.host
}

// send queues a frame. It reports false once the connection is closed.
func (c *conn) send(f OutgoingFrame) bool {
	select {
	case <-c.done:
		return false
	default:
	}
	select {
	case c.out <- f:
		return true
	case <-c.done:
		return false
	}
}

func (c *conn) sendError(err error) {
	c.send(OutgoingFrame{Type: FrameError, Kind: string(api.KindOf(err)), Error: api.UserMessage(err)})
}

func (c *conn) writeLoop() {
	for {
		select {
		case f := <-c.out:
			data, err := json.Marshal(f)
			if err != nil {
				slog.Error("Failed to marshal frame", "type", f.Type, "error", err)
				continue
			}
			if err := c.ws.WriteMessage(websocket.TextMessage, data); err != nil {
				slog.Debug("Widget write failed", "error", err)
				c.close()
				return
			}
		case <-c.done:
			return
		}
	}
}

// close tears the widget down once: pending sends are abandoned, the host
// and its session are destroyed and the socket is closed.
func (c *conn) close() {
	c.closeOnce.Do(func() {
		close(c.done)
		if h := c.getHost(); h != nil {
			c.gw.ReleaseHost(h)
		}
		c.ws.Close()
	})
}

func (c *conn) handle(f IncomingFrame) {
	switch f.Type {
	case FrameMode:
		c.activate(f.Mode)
	case FrameText:
		c.handleText(f)
	case FrameAttach:
		if t, ok := c.text(); ok {
			c.attach(t, f.Files)
			c.sendPending(t)
		}
	case FrameRemoveFile:
		if t, ok := c.text(); ok {
			t.RemoveFile(f.Index)
			c.sendPending(t)
		}
	case FrameStart:
		if v, ok := c.voice(); ok {
			go func() {
				if err := v.Start(); err != nil && !errors.Is(err, session.ErrStopped) {
					c.sendError(err)
				}
			}()
		}
	case FrameStop:
		if v, ok := c.voice(); ok {
			v.Stop()
		}
	case FramePermission:
		select {
		case c.permission <- f.Granted:
		default:
		}
	case FrameSpeech:
		c.feed.Push(speech.Result{Text: f.Text, Final: f.Final})
	case FrameSpeechError:
		msg := f.Error
		if msg == "" {
			msg = "recognition failed"
		}
		c.feed.Push(speech.Result{Err: errors.New(msg)})
	case FrameSpeakEnd:
		select {
		case c.speakEnd <- struct{}{}:
		default:
		}
	default:
		c.sendError(fmt.Errorf("unknown frame type %q", f.Type))
	}
}

func (c *conn) activate(mode string) {
	h := c.getHost()
	s, err := h.Activate(mode)
	if err != nil {
		c.sendError(err)
		return
	}

	frame := OutgoingFrame{Type: FrameMode, Session: s.ID(), Mode: s.Mode()}
	if v, ok := s.(*session.VoiceSession); ok {
		frame.Header = v.Header()
		if s.Mode() == host.ModeMeeting {
			frame.Status = host.MeetingStatus
		}
		c.send(frame)
		st := v.State()
		c.send(OutgoingFrame{Type: FrameState, Session: s.ID(), State: &st})
		return
	}
	c.send(frame)
}

func (c *conn) handleText(f IncomingFrame) {
	t, ok := c.text()
	if !ok {
		return
	}
	c.attach(t, f.Files)
	go func() {
		if _, err := t.Send(f.Text); err != nil && !errors.Is(err, session.ErrDestroyed) {
			c.sendError(err)
		}
		c.sendPending(t)
	}()
}

func (c *conn) attach(t *session.TextSession, files []WireFile) {
	if len(files) == 0 {
		return
	}
	decoded := make([]api.FileAttachment, 0, len(files))
	for _, wf := range files {
		data, err := base64.StdEncoding.DecodeString(wf.Data)
		if err != nil {
			c.sendError(fmt.Errorf("file %s is not valid base64: %w", wf.Name, err))
			continue
		}
		mime := wf.Mime
		if mime == "" {
			mime = utils.DetectMime(wf.Name, data)
		}
		decoded = append(decoded, api.FileAttachment{Filename: wf.Name, MimeType: mime, Data: data})
	}
	for _, err := range t.AddFiles(decoded...) {
		if err != nil {
			c.sendError(err)
		}
	}
}

func (c *conn) sendPending(t *session.TextSession) {
	c.send(OutgoingFrame{Type: FramePending, Session: t.ID(), Files: t.Pending()})
}

func (c *conn) text() (*session.TextSession, bool) {
	t, ok := c.getHost().Text()
	if !ok {
		c.sendError(api.NewError(api.KindConfiguration, "the active mode does not accept text", nil))
	}
	return t, ok
}

func (c *conn) voice() (*session.VoiceSession, bool) {
	v, ok := c.getHost().Voice()
	if !ok {
		c.sendError(api.NewError(api.KindConfiguration, "the active mode has no voice", nil))
	}
	return v, ok
}
