package feed

import (
	"context"
	"errors"
	"net/http"
	"strings"
	"sync"
	"time"

	"PPNotify/logger"
	mid "PPNotify/middleware"
	core "PPNotify/module/feed"
	"PPNotify/module/feed/model"
	"PPNotify/tools/errs"
	"PPNotify/tools/ids"

	"github.com/gin-gonic/gin"
	"github.com/gorilla/websocket"
	"go.uber.org/zap"
)

type Conf struct {
	Addr             string
	WSPath           string
	MaxBodyBytes     int
	ReadLimit        int64
	WriteTimeout     time.Duration
	HandshakeTimeout time.Duration
	AllowedOrigins   []string
	DebugLocalOnly   bool
}

func (c *Conf) norm() {
	if c.Addr == "" {
		c.Addr = ":8080"
	}
	if c.WSPath == "" {
		c.WSPath = "/ws"
	}
	if c.MaxBodyBytes <= 0 {
		c.MaxBodyBytes = DefaultMaxBodyBytes
	}
	if c.ReadLimit <= 0 {
		c.ReadLimit = 4096
	}
	if c.WriteTimeout <= 0 {
		c.WriteTimeout = 5 * time.Second
	}
	if c.HandshakeTimeout <= 0 {
		c.HandshakeTimeout = 10 * time.Second
	}
}

// Server exposes a notification engine over websocket plus diagnostics routes.
type Server struct {
	conf     Conf
	engine   *core.Server
	disp     *Dispatcher
	recorder DeliveryRecorder
	metrics  http.Handler
	upgrader websocket.Upgrader
	router   *gin.Engine
	mids     *mid.MiddlewareManager

	mu       sync.Mutex
	sessions map[string]*ConnectionSession
	wg       sync.WaitGroup
	ctx      context.Context
	cancel   context.CancelFunc
}

// NewServer builds the HTTP routes. rec and metrics may be nil.
func NewServer(conf Conf, engine *core.Server, rec DeliveryRecorder, metrics http.Handler) *Server {
	conf.norm()
	ctx, cancel := context.WithCancel(context.Background())
	s := &Server{
		conf:     conf,
		engine:   engine,
		disp:     NewDispatcher(conf.MaxBodyBytes),
		recorder: rec,
		metrics:  metrics,
		upgrader: websocket.Upgrader{
			ReadBufferSize:  4096,
			WriteBufferSize: 4096,
			CheckOrigin:     func(r *http.Request) bool { return true },
		},
		sessions: make(map[string]*ConnectionSession),
		ctx:      ctx,
		cancel:   cancel,
	}
	s.router = s.routes()
	return s
}

func (s *Server) Disp() *Dispatcher { return s.disp }

func (s *Server) Handler() http.Handler { return s.router }

// Middlewares can take extra handlers while the server runs; they apply to
// every route, before the route's own handlers.
func (s *Server) Middlewares() *mid.MiddlewareManager { return s.mids }

func (s *Server) routes() *gin.Engine {
	r := gin.New()
	s.mids = mid.NewManager(mid.Origin(s.conf.WSPath, s.conf.AllowedOrigins))
	r.Use(gin.Recovery(), mid.AccessLog(), s.mids.Use())

	r.GET(s.conf.WSPath, s.HandleWS)
	r.GET("/healthz", func(c *gin.Context) {
		c.JSON(http.StatusOK, gin.H{"status": "ok", "sessions": s.SessionCount()})
	})

	opt := mid.RouteOpt{LocalOnly: s.conf.DebugLocalOnly}
	mid.GET(r, "/debug/sessions", func(c *gin.Context) { c.JSON(http.StatusOK, s.engine.Sessions()) }, opt)
	mid.GET(r, "/debug/followers", func(c *gin.Context) { c.JSON(http.StatusOK, s.engine.Followers()) }, opt)
	mid.GET(r, "/debug/unread", func(c *gin.Context) { c.JSON(http.StatusOK, s.engine.Unread()) }, opt)
	mid.GET(r, "/debug/notifications", func(c *gin.Context) { c.JSON(http.StatusOK, s.engine.Notifications()) }, opt)
	if s.metrics != nil {
		r.GET("/metrics", gin.WrapH(s.metrics))
	}
	return r
}

// HandleWS upgrades the request, runs the LOGIN handshake and serves the
// admitted session until it ends.
func (s *Server) HandleWS(c *gin.Context) {
	ws, err := s.upgrader.Upgrade(c.Writer, c.Request, nil)
	if err != nil {
		logger.Infof("[HandleWS] upgrade websocket error: %v", err)
		return
	}
	ws.SetReadLimit(s.conf.ReadLimit)
	conn := NewWsConn(ws, s.disp, s.conf.WriteTimeout)

	ep, err := model.ParseEndpoint(c.Request.RemoteAddr)
	if err != nil {
		s.reject(conn, "bad remote address")
		return
	}

	user, err := s.handshake(conn)
	if err != nil {
		logger.Info("[HandleWS] handshake failed", zap.Stringer("endpoint", ep), zap.Error(err))
		s.reject(conn, "expected LOGIN with a user name")
		return
	}

	q, err := s.engine.StartSession(user, ep)
	if err != nil {
		logger.Info("[HandleWS] session rejected", zap.String("user", user), zap.Stringer("endpoint", ep), zap.Int("code", errs.Code(err)))
		s.reject(conn, err.Error())
		return
	}

	sid := ids.GenerateString()
	sess := NewConnectionSession(sid, user, ep, conn, q, s.engine, s.recorder)
	if err := conn.WriteFrame(BuildSessionOpened(user, sid)); err != nil {
		sess.Teardown()
		return
	}

	if !s.track(sess) {
		sess.Teardown()
		return
	}
	defer s.untrack(sess)
	_ = sess.Run(s.ctx)
}

func (s *Server) handshake(conn *WsConn) (string, error) {
	_ = conn.Conn.SetReadDeadline(time.Now().Add(s.conf.HandshakeTimeout))
	defer func() { _ = conn.Conn.SetReadDeadline(time.Time{}) }()

	f, err := conn.ReadFrame()
	if err != nil {
		return "", err
	}
	user := strings.TrimSpace(f.Payload)
	if f.Type != FrameLogin || user == "" {
		return "", ErrMalformedUnit.WrapMsg("bad handshake", "type", f.Type)
	}
	return user, nil
}

func (s *Server) reject(conn *WsConn, reason string) {
	_ = conn.WriteFrame(BuildSessionRejected(reason))
	_ = conn.Close()
}

func (s *Server) track(sess *ConnectionSession) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.ctx.Err() != nil {
		return false
	}
	s.sessions[sess.ID] = sess
	s.wg.Add(1)
	return true
}

func (s *Server) untrack(sess *ConnectionSession) {
	s.mu.Lock()
	delete(s.sessions, sess.ID)
	s.mu.Unlock()
	s.wg.Done()
}

func (s *Server) SessionCount() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.sessions)
}

// Run serves HTTP until ctx ends, then tears every session down.
func (s *Server) Run(ctx context.Context) error {
	hs := &http.Server{Addr: s.conf.Addr, Handler: s.router}
	errCh := make(chan error, 1)
	go func() {
		logger.Info("[HTTP] listening", zap.String("addr", s.conf.Addr))
		errCh <- hs.ListenAndServe()
	}()

	select {
	case err := <-errCh:
		s.Shutdown()
		if errors.Is(err, http.ErrServerClosed) {
			return nil
		}
		return errs.Wrap(err)
	case <-ctx.Done():
	}

	sctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	err := hs.Shutdown(sctx)
	s.Shutdown()
	return errs.Wrap(err)
}

// Shutdown cancels every live session and waits for them to finish.
func (s *Server) Shutdown() {
	s.mu.Lock()
	s.cancel()
	s.mu.Unlock()
	s.wg.Wait()
}
