// Package admin serves the HTTP surface of a long-running spreadctl session.
package admin

import (
	"context"
	"errors"
	"net/http"
	"strings"
	"sync"
	"time"

	"github.com/danmuck/spreadctl/internal/auth"
	"github.com/danmuck/spreadctl/internal/config"
	"github.com/danmuck/spreadctl/internal/observability"
	"github.com/danmuck/spreadctl/internal/protocol/frame"
	"github.com/danmuck/spreadctl/internal/protocol/handshake"
	"github.com/danmuck/spreadctl/internal/spread"
	"github.com/gin-contrib/cors"
	"github.com/gin-gonic/gin"
	"github.com/rs/zerolog/log"
)

// Version is reported by /health and /ready.
var Version = "0.1.0"

const recentLimit = 32

var ErrNoSession = errors.New("admin: no spread session")

// Session is the part of a spread session the admin surface reads and drives.
type Session interface {
	PrivateName() string
	Membership() bool
	DaemonVersion() handshake.Version
	RemoteAddr() string
	Closed() bool
	Groups() []string
	Requests() []spread.GroupRequest
	Multicast(ctx context.Context, groups []string, data []byte) error
}

// Received is a delivered frame as exposed over HTTP.
type Received struct {
	At      time.Time `json:"at"`
	Service string    `json:"service"`
	Sender  string    `json:"sender"`
	Groups  []string  `json:"groups"`
	Bytes   int       `json:"bytes"`
}

type Server struct {
	ID       string
	Addr     string
	Appeared time.Time

	router *gin.Engine
	token  auth.Validator

	mu       sync.RWMutex
	session  Session
	recent   []Received
	received uint64
}

func New(id string, cfg config.AdminConfig) *Server {
	observability.RegisterMetrics()
	r := gin.New()
	r.Use(gin.Recovery())
	r.Use(observability.AccessLog(log.Logger, id))
	r.Use(cors.New(cors.Config{
		AllowOrigins: normalizeOrigins(cfg.CorsOrigins),
		AllowMethods: []string{"GET", "POST"},
		AllowHeaders: []string{"Origin", "Content-Type", "Authorization"},
		MaxAge:       12 * time.Hour,
	}))
	proxies := cfg.TrustedProxies
	if len(proxies) == 0 {
		proxies = []string{"127.0.0.1", "::1"}
	}
	if err := r.SetTrustedProxies(proxies); err != nil {
		log.Warn().Err(err).Strs("trusted_proxies", proxies).Msg("admin trusted proxies rejected")
	}

	s := &Server{
		ID:       id,
		Addr:     strings.TrimSpace(cfg.Addr),
		Appeared: time.Now(),
		router:   r,
	}
	if t := strings.TrimSpace(cfg.Token); t != "" {
		s.token = auth.StaticToken{Token: t}
	}
	s.registerRoutes()
	return s
}

// SetSession attaches the session the routes report on. nil detaches it.
func (s *Server) SetSession(sess Session) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.session = sess
}

// Observe records a frame delivered to the attached session.
func (s *Server) Observe(msg frame.Message) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.received++
	s.recent = append(s.recent, Received{
		At:      time.Now(),
		Service: msg.ServiceType.String(),
		Sender:  msg.Sender,
		Groups:  append([]string(nil), msg.Groups...),
		Bytes:   len(msg.Data),
	})
	if len(s.recent) > recentLimit {
		s.recent = s.recent[len(s.recent)-recentLimit:]
	}
}

func (s *Server) Handler() http.Handler {
	return s.router
}

// Serve listens on Addr until ctx is done.
func (s *Server) Serve(ctx context.Context) error {
	srv := &http.Server{
		Addr:              s.Addr,
		Handler:           s.router,
		ReadHeaderTimeout: 5 * time.Second,
	}
	errc := make(chan error, 1)
	go func() {
		log.Info().Str("addr", s.Addr).Str("node", s.ID).Msg("admin listening")
		errc <- srv.ListenAndServe()
	}()
	select {
	case err := <-errc:
		return err
	case <-ctx.Done():
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if err := srv.Shutdown(shutdownCtx); err != nil {
			return err
		}
		if err := <-errc; err != nil && !errors.Is(err, http.ErrServerClosed) {
			return err
		}
		return nil
	}
}

func (s *Server) current() (Session, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if s.session == nil {
		return nil, ErrNoSession
	}
	if s.session.Closed() {
		return nil, spread.ErrSessionClosed
	}
	return s.session, nil
}

// requireToken rejects writes without the configured bearer token. With no
// token configured every write passes.
func (s *Server) requireToken() gin.HandlerFunc {
	return func(c *gin.Context) {
		if s.token == nil {
			c.Next()
			return
		}
		token, err := auth.BearerToken(c.GetHeader("Authorization"))
		if err == nil {
			err = s.token.Validate(token)
		}
		if err != nil {
			c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{"error": err.Error()})
			return
		}
		c.Next()
	}
}

func normalizeOrigins(origins []string) []string {
	out := make([]string, 0, len(origins))
	for _, o := range origins {
		if o = strings.TrimRight(strings.TrimSpace(o), "/"); o != "" {
			out = append(out, o)
		}
	}
	if len(out) == 0 {
		return []string{"http://localhost:3000"}
	}
	return out
}
