// Package httpchannel is the browser-facing transport: guests POST JSON-RPC
// envelopes upstream and hold a text/event-stream downstream. Envelope
// routing between the HTTP front end and the bridge goes through a
// channelhost.MessageHost, so multi-instance deployments can route over
// Redis while single nodes use the in-memory host.
package httpchannel

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"slices"
	"sync"

	"github.com/elnormous/contenttype"
	"github.com/google/uuid"
	"github.com/joeshaw/envdecode"

	"github.com/uibridge/uibridge-go/channelhost"
	"github.com/uibridge/uibridge-go/internal/jsonrpc"
)

var (
	jsonMediaType         = contenttype.NewMediaType("application/json")
	eventStreamMediaType  = contenttype.NewMediaType("text/event-stream")
	eventStreamMediaTypes = []contenttype.MediaType{eventStreamMediaType}
)

const lastEventIDHeader = "Last-Event-ID"

// Config tunes the HTTP front end. Populate via envdecode or literals.
type Config struct {
	// AllowedOrigins is the exact-match Origin allow-list. Empty allows any
	// origin, which is only sensible in development.
	// ENV: BRIDGE_ALLOWED_ORIGINS (semicolon separated)
	AllowedOrigins []string `env:"BRIDGE_ALLOWED_ORIGINS"`
	// MaxBodyBytes bounds the size of a single envelope POST.
	// ENV: BRIDGE_MAX_BODY_BYTES
	MaxBodyBytes int64 `env:"BRIDGE_MAX_BODY_BYTES,default=1048576"`
}

// ConfigFromEnv loads Config from the environment.
func ConfigFromEnv() (Config, error) {
	var cfg Config
	if err := envdecode.Decode(&cfg); err != nil {
		return Config{}, fmt.Errorf("decode httpchannel config: %w", err)
	}
	return cfg, nil
}

// ChannelFunc is invoked with the transport of each newly created channel.
// The callback typically wraps it in a host bridge and starts serving.
type ChannelFunc func(*Channel)

// Server is the http.Handler front end. Routes:
//
//	POST /channels        create a channel
//	POST /channels/{id}   submit one envelope
//	GET  /channels/{id}   attach the event stream (supports Last-Event-ID)
type Server struct {
	messages  channelhost.MessageHost
	onChannel ChannelFunc
	cfg       Config
	log       *slog.Logger
	mux       *http.ServeMux

	mu       sync.Mutex
	channels map[string]*Channel
}

var _ http.Handler = (*Server)(nil)

// ServerOption configures a Server.
type ServerOption func(*Server)

// WithConfig replaces the default Config.
func WithConfig(cfg Config) ServerOption {
	return func(s *Server) { s.cfg = cfg }
}

// WithServerLogger sets the logger. Defaults to slog.Default.
func WithServerLogger(log *slog.Logger) ServerOption {
	return func(s *Server) { s.log = log }
}

// NewServer builds the front end. onChannel runs synchronously during channel
// creation, before the creation response is written.
func NewServer(messages channelhost.MessageHost, onChannel ChannelFunc, opts ...ServerOption) *Server {
	s := &Server{
		messages:  messages,
		onChannel: onChannel,
		cfg:       Config{MaxBodyBytes: 1 << 20},
		log:       slog.Default(),
		channels:  make(map[string]*Channel),
	}
	for _, opt := range opts {
		opt(s)
	}

	mux := http.NewServeMux()
	mux.HandleFunc("POST /channels", s.handleCreateChannel)
	mux.HandleFunc("POST /channels/{id}", s.handlePostMessage)
	mux.HandleFunc("GET /channels/{id}", s.handleEventStream)
	s.mux = mux
	return s
}

func (s *Server) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	if !s.originAllowed(r) {
		s.log.WarnContext(r.Context(), "origin.rejected", slog.String("origin", r.Header.Get("Origin")))
		http.Error(w, "origin not allowed", http.StatusForbidden)
		return
	}
	s.mux.ServeHTTP(w, r)
}

func (s *Server) originAllowed(r *http.Request) bool {
	origin := r.Header.Get("Origin")
	if origin == "" || len(s.cfg.AllowedOrigins) == 0 {
		return true
	}
	return slices.Contains(s.cfg.AllowedOrigins, origin)
}

func (s *Server) removeChannel(id string) {
	s.mu.Lock()
	delete(s.channels, id)
	s.mu.Unlock()
}

func (s *Server) channelByID(id string) *Channel {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.channels[id]
}

func (s *Server) handleCreateChannel(w http.ResponseWriter, r *http.Request) {
	ch := &Channel{
		id:     uuid.NewString(),
		server: s,
		in:     make(chan jsonrpc.Message, 64),
		errs:   make(chan error, 1),
		done:   make(chan struct{}),
	}
	s.mu.Lock()
	s.channels[ch.id] = ch
	s.mu.Unlock()

	if s.onChannel != nil {
		s.onChannel(ch)
	}
	s.log.InfoContext(r.Context(), "channel.created", slog.String("channel_id", ch.id))

	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(http.StatusCreated)
	_ = json.NewEncoder(w).Encode(map[string]string{"channelId": ch.id})
}

func (s *Server) handlePostMessage(w http.ResponseWriter, r *http.Request) {
	ctype, err := contenttype.GetMediaType(r)
	if err != nil || !ctype.Matches(jsonMediaType) {
		http.Error(w, "content-type must be application/json", http.StatusUnsupportedMediaType)
		return
	}

	ch := s.channelByID(r.PathValue("id"))
	if ch == nil {
		http.Error(w, "unknown channel", http.StatusNotFound)
		return
	}

	body, err := io.ReadAll(io.LimitReader(r.Body, s.cfg.MaxBodyBytes+1))
	if err != nil {
		http.Error(w, "read body", http.StatusBadRequest)
		return
	}
	if int64(len(body)) > s.cfg.MaxBodyBytes {
		http.Error(w, "envelope too large", http.StatusRequestEntityTooLarge)
		return
	}
	if _, err := jsonrpc.Decode(body); err != nil {
		http.Error(w, "malformed envelope", http.StatusBadRequest)
		return
	}

	if err := ch.deliver(r.Context(), jsonrpc.Message(body)); err != nil {
		http.Error(w, "channel gone", http.StatusGone)
		return
	}
	w.WriteHeader(http.StatusAccepted)
}

func (s *Server) handleEventStream(w http.ResponseWriter, r *http.Request) {
	if acc := r.Header.Get("Accept"); acc != "" {
		if _, _, err := contenttype.GetAcceptableMediaType(r, eventStreamMediaTypes); err != nil {
			w.WriteHeader(http.StatusUnsupportedMediaType)
			return
		}
	}

	ch := s.channelByID(r.PathValue("id"))
	if ch == nil {
		http.Error(w, "unknown channel", http.StatusNotFound)
		return
	}

	f, ok := w.(http.Flusher)
	if !ok {
		w.WriteHeader(http.StatusInternalServerError)
		s.log.ErrorContext(r.Context(), "sse.flusher.missing")
		return
	}
	ctx := r.Context()
	wf := &lockedWriteFlusher{Writer: w, Flusher: f, ctx: ctx}

	lastEventID := r.Header.Get(lastEventIDHeader)

	w.Header().Set("Content-Type", "text/event-stream")
	w.Header().Set("Cache-Control", "no-cache")
	w.Header().Set("Connection", "keep-alive")
	w.Header().Set("X-Accel-Buffering", "no")
	w.WriteHeader(http.StatusOK)
	wf.Flush()

	s.log.InfoContext(ctx, "sse.stream.start", slog.String("channel_id", ch.id))

	err := s.messages.Subscribe(ctx, ch.id, lastEventID, func(cbCtx context.Context, eventID string, data []byte) error {
		return writeSSEEvent(wf, eventID, data)
	})
	if err != nil && ctx.Err() == nil {
		s.log.WarnContext(ctx, "sse.stream.fail", slog.String("err", err.Error()))
	}
}

type lockedWriteFlusher struct {
	io.Writer
	http.Flusher
	mu  sync.Mutex
	ctx context.Context
}

func (l *lockedWriteFlusher) Write(p []byte) (int, error) {
	if l.ctx != nil && l.ctx.Err() != nil {
		return 0, l.ctx.Err()
	}
	l.mu.Lock()
	defer l.mu.Unlock()
	if l.ctx != nil && l.ctx.Err() != nil {
		return 0, l.ctx.Err()
	}
	return l.Writer.Write(p)
}

func (l *lockedWriteFlusher) Flush() {
	if l.ctx != nil && l.ctx.Err() != nil {
		return
	}
	l.mu.Lock()
	defer l.mu.Unlock()
	if l.ctx != nil && l.ctx.Err() != nil {
		return
	}
	l.Flusher.Flush()
}

func writeSSEEvent(wf *lockedWriteFlusher, eventID string, payload []byte) error {
	if eventID != "" {
		if _, err := fmt.Fprintf(wf, "id: %s\n", eventID); err != nil {
			return fmt.Errorf("write sse event id: %w", err)
		}
	}
	if _, err := wf.Write([]byte("data: ")); err != nil {
		return fmt.Errorf("write sse data prefix: %w", err)
	}
	if _, err := wf.Write(payload); err != nil {
		return fmt.Errorf("write sse payload: %w", err)
	}
	if _, err := wf.Write([]byte("\n\n")); err != nil {
		return fmt.Errorf("write sse frame terminator: %w", err)
	}
	wf.Flush()
	return nil
}
