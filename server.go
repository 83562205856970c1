package pomelo

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"net"
	"net/http"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/gorilla/websocket"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// ServerConfig configures the remote relay.
type ServerConfig struct {
	// Addr is the listen address. Default: 127.0.0.1:8765.
	Addr string `yaml:"addr"`

	// WSPath is the WebSocket endpoint path. Default: /ws.
	WSPath string `yaml:"ws_path"`

	// EnableMetrics exposes Prometheus metrics on /metrics.
	EnableMetrics bool `yaml:"enable_metrics"`

	// WriteTimeout bounds each response write. Default: 10s.
	WriteTimeout time.Duration `yaml:"write_timeout"`
}

func (c *ServerConfig) normalize() {
	if c.Addr == "" {
		c.Addr = "127.0.0.1:8765"
	}
	if c.WSPath == "" {
		c.WSPath = "/ws"
	}
	if c.WriteTimeout <= 0 {
		c.WriteTimeout = 10 * time.Second
	}
}

// Request is one relay operation. Data carries the operation payload:
// an encoded record for insert, a list of them for insert_many, a query for
// search/find_one/delete, and a {query, patch} pair for update.
type Request struct {
	Op     string          `json:"op"`
	Data   json.RawMessage `json:"data,omitempty"`
	Kwargs Kwargs          `json:"kwargs,omitempty"`
}

// Kwargs are the optional modifiers of a request.
type Kwargs struct {
	// Table selects the target table. Empty means the server's default.
	Table string `json:"table,omitempty"`
	// Rate bounds search results. Zero means unbounded.
	Rate int `json:"rate,omitempty"`
	// All selects every match for delete instead of only the first.
	// Nil defaults to true.
	All *bool `json:"all,omitempty"`
}

// Response carries either a result or an error message, never both.
type Response struct {
	Result json.RawMessage `json:"result,omitempty"`
	Error  string          `json:"error,omitempty"`
}

// Server relays database operations over WebSocket. One request is handled
// at a time across all connections, in arrival order, so the relay acts as
// the single writer of the underlying blob.
type Server struct {
	db     *DB
	config ServerConfig
	logger *slog.Logger

	httpServer *http.Server
	listener   net.Listener
	upgrader   websocket.Upgrader

	// dispatchMu serializes operations across connections.
	dispatchMu sync.Mutex

	mu     sync.Mutex
	closed bool
}

// NewServer creates a relay over db. A nil logger falls back to
// slog.Default().
func NewServer(db *DB, cfg ServerConfig, logger *slog.Logger) *Server {
	cfg.normalize()
	if logger == nil {
		logger = slog.Default()
	}
	return &Server{
		db:     db,
		config: cfg,
		logger: logger,
		upgrader: websocket.Upgrader{
			ReadBufferSize:  4096,
			WriteBufferSize: 4096,
		},
	}
}

// Start begins listening and serving in the background.
func (s *Server) Start() error {
	listener, err := net.Listen("tcp", s.config.Addr)
	if err != nil {
		return fmt.Errorf("failed to listen on %s: %w", s.config.Addr, err)
	}
	s.listener = listener

	mux := http.NewServeMux()
	mux.HandleFunc(s.config.WSPath, s.handleWS)
	mux.HandleFunc("/healthz", func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusOK)
		_, _ = w.Write([]byte("ok"))
	})
	if s.config.EnableMetrics {
		mux.Handle("/metrics", promhttp.Handler())
	}

	s.httpServer = &http.Server{Handler: mux}
	go func() {
		if err := s.httpServer.Serve(listener); err != nil && !errors.Is(err, http.ErrServerClosed) {
			s.logger.Error("relay server stopped", "error", err)
		}
	}()

	s.logger.Info("relay listening", "addr", listener.Addr().String(), "path", s.config.WSPath)
	return nil
}

// Addr returns the bound listen address, useful when Addr was :0.
func (s *Server) Addr() string {
	if s.listener == nil {
		return s.config.Addr
	}
	return s.listener.Addr().String()
}

// Close shuts the listener down and ends all connections.
func (s *Server) Close() error {
	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return nil
	}
	s.closed = true
	s.mu.Unlock()

	if s.httpServer != nil {
		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		return s.httpServer.Shutdown(ctx)
	}
	return nil
}

func (s *Server) handleWS(w http.ResponseWriter, r *http.Request) {
	conn, err := s.upgrader.Upgrade(w, r, nil)
	if err != nil {
		s.logger.Warn("websocket upgrade failed", "error", err)
		return
	}
	connID := uuid.NewString()
	s.logger.Info("connection opened", "conn", connID, "remote", r.RemoteAddr)
	metricServerConnections.Inc()
	defer func() {
		metricServerConnections.Dec()
		s.logger.Info("connection closed", "conn", connID)
		_ = conn.Close()
	}()

	for {
		var req Request
		if err := conn.ReadJSON(&req); err != nil {
			if !websocket.IsCloseError(err, websocket.CloseNormalClosure, websocket.CloseGoingAway) {
				s.logger.Debug("read failed", "conn", connID, "error", err)
			}
			return
		}

		resp := s.handleRequest(&req)
		_ = conn.SetWriteDeadline(time.Now().Add(s.config.WriteTimeout))
		if err := conn.WriteJSON(resp); err != nil {
			s.logger.Warn("write failed", "conn", connID, "error", err)
			return
		}
	}
}

// handleRequest dispatches one operation. Errors never terminate the
// connection; they come back as the response's error message.
func (s *Server) handleRequest(req *Request) Response {
	s.dispatchMu.Lock()
	result, err := s.dispatch(req)
	s.dispatchMu.Unlock()
	observeServerRequest(req.Op, err)
	if err != nil {
		s.logger.Debug("operation failed", "op", req.Op, "error", err)
		return Response{Error: err.Error()}
	}
	raw, err := json.Marshal(result)
	if err != nil {
		return Response{Error: err.Error()}
	}
	return Response{Result: raw}
}

func (s *Server) dispatch(req *Request) (any, error) {
	db := s.db
	if req.Kwargs.Table != "" {
		db = db.Table(req.Kwargs.Table)
	}

	switch req.Op {
	case "insert":
		doc, err := decodeWireDocument(req.Data)
		if err != nil {
			return nil, err
		}
		return db.Insert(doc)

	case "insert_many":
		docs, err := decodeWireDocuments(req.Data)
		if err != nil {
			return nil, err
		}
		return db.InsertMany(docs)

	case "search":
		q, err := decodeWireQuery(req.Data)
		if err != nil {
			return nil, err
		}
		cur, err := db.SearchRate(q, req.Kwargs.Rate)
		if err != nil {
			return nil, err
		}
		return encodeWireDocuments(cur.All())

	case "find_one":
		q, err := decodeWireQuery(req.Data)
		if err != nil {
			return nil, err
		}
		doc, err := db.FindOne(q)
		if err != nil {
			return nil, err
		}
		if doc == nil {
			return nil, nil
		}
		return encodeDocument(doc)

	case "update":
		var body struct {
			Query json.RawMessage `json:"query"`
			Patch json.RawMessage `json:"patch"`
		}
		if err := json.Unmarshal(req.Data, &body); err != nil {
			return nil, fmt.Errorf("%w: %v", ErrInvalidQuery, err)
		}
		q, err := decodeWireQuery(body.Query)
		if err != nil {
			return nil, err
		}
		patch, err := decodeWireDocument(body.Patch)
		if err != nil {
			return nil, err
		}
		if err := db.Update(q, patch); err != nil {
			return nil, err
		}
		return true, nil

	case "delete":
		q, err := decodeWireQuery(req.Data)
		if err != nil {
			return nil, err
		}
		removeAll := true
		if req.Kwargs.All != nil {
			removeAll = *req.Kwargs.All
		}
		deleted, err := db.Delete(q, removeAll)
		if err != nil {
			return nil, err
		}
		return encodeWireDocuments(deleted)

	case "tables":
		return db.Tables()

	case "clear":
		if err := db.Clear(); err != nil {
			return nil, err
		}
		return true, nil
	}

	return nil, fmt.Errorf("unknown operation %q", req.Op)
}

// decodeWireDocument parses one codec-encoded record off the wire.
func decodeWireDocument(data []byte) (*Document, error) {
	if len(data) == 0 {
		return nil, fmt.Errorf("%w: missing record payload", ErrInvalidQuery)
	}
	doc, err := ParseDocument(data)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrCorruptStore, err)
	}
	return decodeDocument(doc)
}

func decodeWireDocuments(data []byte) ([]*Document, error) {
	var raws []json.RawMessage
	if err := json.Unmarshal(data, &raws); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrCorruptStore, err)
	}
	docs := make([]*Document, 0, len(raws))
	for _, raw := range raws {
		doc, err := decodeWireDocument(raw)
		if err != nil {
			return nil, err
		}
		docs = append(docs, doc)
	}
	return docs, nil
}

func encodeWireDocuments(docs []*Document) ([]*Document, error) {
	out := make([]*Document, 0, len(docs))
	for _, doc := range docs {
		enc, err := encodeDocument(doc)
		if err != nil {
			return nil, err
		}
		out = append(out, enc)
	}
	return out, nil
}

// decodeWireQuery parses a serialized query; empty data means match-all.
func decodeWireQuery(data []byte) (*Query, error) {
	if len(data) == 0 {
		return MatchAll(), nil
	}
	var q Query
	if err := json.Unmarshal(data, &q); err != nil {
		return nil, err
	}
	return &q, nil
}
