package stubs

import (
	"context"
	"encoding/json"
	"hash/fnv"
	"log/slog"
	"net/http"
	"strings"
	"sync"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	"github.com/gorilla/websocket"

	"github.com/Rajchodisetti/feedsync/internal/feed"
	"github.com/Rajchodisetti/feedsync/internal/gateway"
	"github.com/Rajchodisetti/feedsync/internal/observ"
)

const (
	writeWait      = 2 * time.Second
	pongWait       = 60 * time.Second
	pingPeriod     = (pongWait * 9) / 10
	maxMessageSize = 1 << 20

	// codeNoSecurity answers a resolve for an unknown symbol.
	codeNoSecurity = 200
)

// Config tunes the stub gateway.
type Config struct {
	TickInterval   time.Duration
	Seed           int64
	MaxHistoryBars int
	// Fixtures override the random walk for historical requests.
	Fixtures map[string][]feed.Bar
	// NotSubscribed symbols answer subscriptions with 354 and historical
	// requests with 420.
	NotSubscribed []string
	// Unknown symbols fail contract resolution.
	Unknown []string
	Release bool
}

// Server is a websocket market data gateway serving random-walk or
// fixture data over the envelope protocol. Admin routes drop sessions and
// broadcast status codes so clients can be exercised against outages.
type Server struct {
	cfg      Config
	walk     *gateway.Walk
	engine   *gin.Engine
	upgrader websocket.Upgrader
	log      *slog.Logger

	mu        sync.Mutex
	sessions  map[string]*session
	contracts map[string]int64
}

// NewServer builds the routes.
func NewServer(cfg Config) *Server {
	if cfg.TickInterval <= 0 {
		cfg.TickInterval = time.Second
	}
	if cfg.MaxHistoryBars <= 0 {
		cfg.MaxHistoryBars = 500
	}
	if cfg.Release {
		gin.SetMode(gin.ReleaseMode)
	}
	s := &Server{
		cfg:    cfg,
		walk:   gateway.NewWalk(cfg.Seed),
		engine: gin.New(),
		upgrader: websocket.Upgrader{
			ReadBufferSize:  1024,
			WriteBufferSize: 1024,
			CheckOrigin:     func(r *http.Request) bool { return true },
		},
		log:       observ.Slog().With("component", "stub_gateway"),
		sessions:  map[string]*session{},
		contracts: map[string]int64{},
	}
	s.engine.Use(gin.Recovery())
	s.setupRoutes()
	return s
}

func (s *Server) setupRoutes() {
	s.engine.GET("/health", s.getHealth)
	s.engine.GET("/ws", s.handleWebSocket)
	s.engine.POST("/admin/drop", s.dropSessions)
	s.engine.POST("/admin/status", s.broadcastStatus)
}

// Handler exposes the gin engine.
func (s *Server) Handler() http.Handler { return s.engine }

// Run serves on addr until the listener fails.
func (s *Server) Run(addr string) error {
	s.log.Info("stub gateway listening", "addr", addr)
	return s.engine.Run(addr)
}

// Sessions returns the number of open websocket sessions.
func (s *Server) Sessions() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.sessions)
}

// DropAll closes every session's connection.
func (s *Server) DropAll() int {
	sessions := s.snapshot()
	for _, sess := range sessions {
		sess.close()
	}
	return len(sessions)
}

// Broadcast sends a session-level status code to every session.
func (s *Server) Broadcast(code int) int {
	sessions := s.snapshot()
	for _, sess := range sessions {
		sess.sendError("", code, "session status")
	}
	return len(sessions)
}

func (s *Server) snapshot() []*session {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]*session, 0, len(s.sessions))
	for _, sess := range s.sessions {
		out = append(out, sess)
	}
	return out
}

func (s *Server) getHealth(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{
		"status":   "ok",
		"sessions": s.Sessions(),
	})
}

func (s *Server) dropSessions(c *gin.Context) {
	n := s.DropAll()
	s.log.Info("sessions dropped", "count", n)
	c.JSON(http.StatusOK, gin.H{"dropped": n})
}

func (s *Server) broadcastStatus(c *gin.Context) {
	var body struct {
		Code int `json:"code"`
	}
	if err := c.ShouldBindJSON(&body); err != nil || body.Code == 0 {
		c.JSON(http.StatusBadRequest, gin.H{"error": "code required"})
		return
	}
	n := s.Broadcast(body.Code)
	c.JSON(http.StatusOK, gin.H{"code": body.Code, "sessions": n})
}

func (s *Server) handleWebSocket(c *gin.Context) {
	conn, err := s.upgrader.Upgrade(c.Writer, c.Request, nil)
	if err != nil {
		s.log.Warn("websocket upgrade failed", "error", err)
		return
	}
	ctx, cancel := context.WithCancel(context.Background())
	sess := &session{
		id:     uuid.NewString(),
		srv:    s,
		conn:   conn,
		send:   make(chan gateway.Envelope, 1024),
		ctx:    ctx,
		cancel: cancel,
		live:   map[string]context.CancelFunc{},
		hist:   map[string]context.CancelFunc{},
	}
	s.mu.Lock()
	s.sessions[sess.id] = sess
	s.mu.Unlock()
	s.log.Info("session opened", "session", sess.id)

	go sess.writePump()
	go sess.readPump()
}

func (s *Server) forget(sess *session) {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.sessions, sess.id)
}

func (s *Server) contractFor(spec feed.ContractSpec) (feed.Contract, bool) {
	symbol := strings.ToUpper(spec.Symbol)
	for _, u := range s.cfg.Unknown {
		if strings.EqualFold(u, symbol) {
			return feed.Contract{}, false
		}
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	id, ok := s.contracts[symbol]
	if !ok {
		h := fnv.New32a()
		_, _ = h.Write([]byte(symbol))
		id = int64(h.Sum32())
		s.contracts[symbol] = id
	}
	tz := "America/New_York"
	if strings.EqualFold(spec.SecType, "CASH") {
		tz = "UTC"
	}
	return feed.Contract{ID: id, Spec: spec, TimeZone: tz}, true
}

func (s *Server) notSubscribed(symbol string) bool {
	for _, n := range s.cfg.NotSubscribed {
		if strings.EqualFold(n, symbol) {
			return true
		}
	}
	return false
}

func (s *Server) history(req gateway.Request) []feed.Bar {
	symbol := ""
	if req.Contract != nil {
		symbol = strings.ToUpper(req.Contract.Symbol)
	}
	end := time.Now().UTC()
	if req.End != nil {
		end = *req.End
	}
	if bars, ok := s.cfg.Fixtures[symbol]; ok {
		return barsBetween(bars, req.Begin, end, s.cfg.MaxHistoryBars)
	}
	tf, err := feed.ParseTimeFrame(req.TimeFrame)
	if err != nil {
		tf = feed.Minutes
	}
	step := gateway.BarDuration(tf, req.Compression)
	return s.walk.Bars(symbol, req.Begin, end.Truncate(step), step, s.cfg.MaxHistoryBars)
}

type session struct {
	id   string
	srv  *Server
	conn *websocket.Conn
	send chan gateway.Envelope

	ctx       context.Context
	cancel    context.CancelFunc
	closeOnce sync.Once

	mu   sync.Mutex
	live map[string]context.CancelFunc
	hist map[string]context.CancelFunc
}

func (ss *session) close() {
	ss.closeOnce.Do(func() {
		ss.cancel()
		_ = ss.conn.Close()
		ss.srv.forget(ss)
		ss.srv.log.Info("session closed", "session", ss.id)
	})
}

func (ss *session) readPump() {
	defer ss.close()

	ss.conn.SetReadLimit(maxMessageSize)
	_ = ss.conn.SetReadDeadline(time.Now().Add(pongWait))
	ss.conn.SetPongHandler(func(string) error {
		return ss.conn.SetReadDeadline(time.Now().Add(pongWait))
	})

	for {
		var req gateway.Request
		if err := ss.conn.ReadJSON(&req); err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseAbnormalClosure) {
				ss.srv.log.Warn("websocket read error", "session", ss.id, "error", err)
			}
			return
		}
		ss.handle(req)
	}
}

func (ss *session) writePump() {
	ticker := time.NewTicker(pingPeriod)
	defer func() {
		ticker.Stop()
		ss.close()
	}()
	for {
		select {
		case <-ss.ctx.Done():
			return
		case env := <-ss.send:
			_ = ss.conn.SetWriteDeadline(time.Now().Add(writeWait))
			if err := ss.conn.WriteJSON(env); err != nil {
				ss.srv.log.Warn("websocket write error", "session", ss.id, "error", err)
				return
			}
		case <-ticker.C:
			_ = ss.conn.SetWriteDeadline(time.Now().Add(writeWait))
			if err := ss.conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				return
			}
		}
	}
}

func (ss *session) handle(req gateway.Request) {
	switch req.Op {
	case gateway.OpResolve:
		if req.Contract == nil {
			ss.sendError(req.ID, codeNoSecurity, "contract required")
			return
		}
		ct, ok := ss.srv.contractFor(*req.Contract)
		if !ok {
			ss.sendError(req.ID, codeNoSecurity, "no security definition for "+req.Contract.Symbol)
			return
		}
		ss.emit(gateway.TypeContract, req.ID, ct)
	case gateway.OpSubscribe:
		ss.subscribe(req)
	case gateway.OpUnsubscribe:
		ss.stopStream(ss.live, req.ID)
	case gateway.OpHistorical:
		ss.historical(req)
	case gateway.OpCancel:
		ss.stopStream(ss.hist, req.ID)
	default:
		ss.srv.log.Warn("unknown op", "session", ss.id, "op", req.Op)
	}
}

func (ss *session) subscribe(req gateway.Request) {
	if req.Contract == nil {
		ss.sendError(req.ID, codeNoSecurity, "contract required")
		return
	}
	symbol := strings.ToUpper(req.Contract.Symbol)
	if ss.srv.notSubscribed(symbol) {
		ss.sendError(req.ID, feed.CodeNotSubscribed, "market data not subscribed")
		return
	}
	ctx, cancel := context.WithCancel(ss.ctx)
	ss.mu.Lock()
	if prev, ok := ss.live[req.ID]; ok {
		prev()
	}
	ss.live[req.ID] = cancel
	ss.mu.Unlock()

	interval := ss.srv.cfg.TickInterval
	bars := req.Kind == feed.LiveBars.String()
	go func() {
		ticker := time.NewTicker(interval)
		defer ticker.Stop()
		for {
			select {
			case <-ctx.Done():
				return
			case now := <-ticker.C:
				if bars {
					ss.emit(gateway.TypeBar, req.ID, ss.srv.walk.Bar(symbol, now.UTC(), interval))
				} else {
					ss.emit(gateway.TypeTick, req.ID, ss.srv.walk.Tick(symbol, now.UTC()))
				}
			}
		}
	}()
}

func (ss *session) historical(req gateway.Request) {
	if req.Contract != nil && ss.srv.notSubscribed(req.Contract.Symbol) {
		ss.sendError(req.ID, feed.CodeNoPermission, "no historical data permission")
		return
	}
	ctx, cancel := context.WithCancel(ss.ctx)
	ss.mu.Lock()
	ss.hist[req.ID] = cancel
	ss.mu.Unlock()

	bars := ss.srv.history(req)
	go func() {
		defer ss.stopStream(ss.hist, req.ID)
		for _, b := range bars {
			if ctx.Err() != nil {
				return
			}
			ss.emit(gateway.TypeBar, req.ID, b)
		}
		ss.emit(gateway.TypeEnd, req.ID, nil)
	}()
}

func (ss *session) stopStream(streams map[string]context.CancelFunc, id string) {
	ss.mu.Lock()
	defer ss.mu.Unlock()
	if cancel, ok := streams[id]; ok {
		cancel()
		delete(streams, id)
	}
}

func (ss *session) sendError(id string, code int, msg string) {
	ss.emit(gateway.TypeError, id, gateway.ErrorPayload{Code: code, Message: msg})
}

func (ss *session) emit(typ, id string, payload any) {
	env, err := gateway.NewEnvelope(typ, id, payload)
	if err != nil {
		ss.srv.log.Warn("envelope marshal failed", "type", typ, "error", err)
		return
	}
	select {
	case ss.send <- env:
	case <-ss.ctx.Done():
	}
}

// MarshalFixture renders bars in the fixture file shape.
func MarshalFixture(bars map[string][]feed.Bar) ([]byte, error) {
	return json.MarshalIndent(BarsFixture{Bars: bars}, "", "  ")
}
