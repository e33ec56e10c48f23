package server

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"io/fs"
	"net/http"
	"sort"
	"sync"
	"time"

	"github.com/gorilla/websocket"
	"github.com/rs/zerolog"

	"github.com/shaunagostinho/flightsim/internal/gps"
	"github.com/shaunagostinho/flightsim/internal/logger"
)

// Server is the live feed: it decodes every published sentence and
// broadcasts it to WebSocket clients. It implements sink.Sink.
type Server struct {
	cfg   *Config
	webFS fs.FS
	log   zerolog.Logger

	clients   map[*wsClient]struct{}
	clientsMu sync.RWMutex

	upgrader websocket.Upgrader

	fixMu    sync.Mutex
	decoders map[string]*gps.Decoder // keyed by aircraft id

	track *logger.Logger
}

type wsClient struct {
	conn *websocket.Conn
	send chan []byte
}

// Frame is the JSON structure sent to all WebSocket clients.
type Frame struct {
	ID       string    `json:"id,omitempty"` // Aircraft id, or topic when unknown
	Topic    string    `json:"topic,omitempty"`
	Sentence string    `json:"sentence,omitempty"`
	Fix      *gps.Data `json:"fix,omitempty"`
	Fleet    []string  `json:"fleet,omitempty"` // Known aircraft, sent on connect
	Stamp    int64     `json:"stamp"`           // Unix ms
}

// New creates a new Server.
func New(cfg *Config, webFS fs.FS, log zerolog.Logger) *Server {
	return &Server{
		cfg:      cfg,
		webFS:    webFS,
		log:      log.With().Str("component", "ws").Logger(),
		clients:  make(map[*wsClient]struct{}),
		decoders: make(map[string]*gps.Decoder),
		upgrader: websocket.Upgrader{
			CheckOrigin: func(r *http.Request) bool { return true },
		},
	}
}

// AttachTrack lets POST /api/config switch track recording on and off.
func (s *Server) AttachTrack(l *logger.Logger) {
	s.track = l
}

// Handler returns the HTTP routes.
func (s *Server) Handler() http.Handler {
	mux := http.NewServeMux()

	// Serve embedded web files
	if s.webFS != nil {
		mux.Handle("/", http.FileServer(http.FS(s.webFS)))
	}

	mux.HandleFunc("/ws", s.handleWS)
	mux.HandleFunc("/api/config", s.handleConfig)
	mux.HandleFunc("/api/fleet", s.handleFleet)
	return mux
}

// Run serves HTTP until ctx is cancelled.
func (s *Server) Run(ctx context.Context) error {
	srv := &http.Server{
		Addr:    s.cfg.Server.ListenAddr,
		Handler: s.Handler(),
	}

	go func() {
		<-ctx.Done()
		shutCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		srv.Shutdown(shutCtx)
	}()

	s.log.Info().Str("addr", s.cfg.Server.ListenAddr).Msg("listening")
	if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
		return err
	}
	return nil
}

func (s *Server) Name() string   { return "websocket " + s.cfg.Server.ListenAddr }
func (s *Server) Connect() error { return nil }

// Close disconnects every client.
func (s *Server) Close() error {
	s.clientsMu.RLock()
	defer s.clientsMu.RUnlock()
	for c := range s.clients {
		c.conn.Close()
	}
	return nil
}

// Publish decodes the sentence into the topic's running fix and broadcasts
// both. Undecodable sentences are still forwarded, without a fix.
func (s *Server) Publish(topic string, payload []byte) error {
	return s.PublishAircraft("", topic, payload)
}

// PublishAircraft is Publish keyed by aircraft id, so aircraft sharing one
// topic keep separate fixes. An empty id falls back to the topic.
func (s *Server) PublishAircraft(id, topic string, payload []byte) error {
	sentence := string(payload)
	key := id
	if key == "" {
		key = topic
	}

	s.fixMu.Lock()
	d, ok := s.decoders[key]
	if !ok {
		d = &gps.Decoder{}
		s.decoders[key] = d
	}
	var fix *gps.Data
	if err := d.Feed(sentence); err != nil {
		s.log.Debug().Err(err).Str("key", key).Msg("decode failed")
	} else {
		snap := d.Snapshot()
		fix = &snap
	}
	s.fixMu.Unlock()

	s.broadcast(Frame{
		ID:       key,
		Topic:    topic,
		Sentence: sentence,
		Fix:      fix,
		Stamp:    time.Now().UnixMilli(),
	})
	return nil
}

// Fixes returns the latest decoded fix per aircraft.
func (s *Server) Fixes() map[string]gps.Data {
	s.fixMu.Lock()
	defer s.fixMu.Unlock()
	out := make(map[string]gps.Data, len(s.decoders))
	for id, d := range s.decoders {
		out[id] = d.Snapshot()
	}
	return out
}

func (s *Server) handleWS(w http.ResponseWriter, r *http.Request) {
	conn, err := s.upgrader.Upgrade(w, r, nil)
	if err != nil {
		s.log.Warn().Err(err).Msg("upgrade error")
		return
	}

	client := &wsClient{
		conn: conn,
		send: make(chan []byte, 64),
	}

	// Queue the hello frame before registering so it is always first.
	hello := Frame{Stamp: time.Now().UnixMilli()}
	for id := range s.Fixes() {
		hello.Fleet = append(hello.Fleet, id)
	}
	sort.Strings(hello.Fleet)
	if data, err := json.Marshal(hello); err == nil {
		client.send <- data
	}

	s.clientsMu.Lock()
	s.clients[client] = struct{}{}
	n := len(s.clients)
	s.clientsMu.Unlock()

	s.log.Info().Int("clients", n).Msg("client connected")

	// Writer goroutine
	go func() {
		defer conn.Close()
		for msg := range client.send {
			if err := conn.WriteMessage(websocket.TextMessage, msg); err != nil {
				break
			}
		}
	}()

	// Reader goroutine (handle incoming messages / keep-alive)
	go func() {
		defer func() {
			s.clientsMu.Lock()
			delete(s.clients, client)
			n := len(s.clients)
			close(client.send)
			s.clientsMu.Unlock()
			s.log.Info().Int("clients", n).Msg("client disconnected")
		}()
		for {
			if _, _, err := conn.ReadMessage(); err != nil {
				break
			}
		}
	}()
}

func (s *Server) handleConfig(w http.ResponseWriter, r *http.Request) {
	switch r.Method {
	case http.MethodGet:
		data, err := s.cfg.ToJSON()
		if err != nil {
			http.Error(w, err.Error(), 500)
			return
		}
		w.Header().Set("Content-Type", "application/json")
		w.Write(data)

	case http.MethodPost:
		body, err := io.ReadAll(r.Body)
		if err != nil {
			http.Error(w, "bad request", 400)
			return
		}
		if err := s.cfg.UpdateFromJSON(body); err != nil {
			http.Error(w, err.Error(), 400)
			return
		}
		if err := s.cfg.Save(); err != nil {
			s.log.Error().Err(err).Msg("config save failed")
		}
		if s.track != nil {
			s.track.SetEnabled(s.cfg.TrackEnabled())
		}
		// Track recording applies now; the fleet is built once at startup.
		w.Header().Set("Content-Type", "application/json")
		w.Write([]byte(`{"status":"ok","restart":true}`))

	default:
		http.Error(w, "method not allowed", 405)
	}
}

func (s *Server) handleFleet(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		http.Error(w, "method not allowed", 405)
		return
	}
	data, err := json.Marshal(s.Fixes())
	if err != nil {
		http.Error(w, err.Error(), 500)
		return
	}
	w.Header().Set("Content-Type", "application/json")
	w.Write(data)
}

func (s *Server) broadcast(frame Frame) {
	data, err := json.Marshal(frame)
	if err != nil {
		return
	}

	s.clientsMu.RLock()
	defer s.clientsMu.RUnlock()

	for client := range s.clients {
		select {
		case client.send <- data:
		default:
			// Client too slow, skip
		}
	}
}
