package admin

import (
	"errors"
	"io"
	"net/http"
	"time"

	"github.com/danmuck/spreadctl/internal/protocol"
	"github.com/danmuck/spreadctl/internal/spread"
	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

const maxPostBytes = 1 << 20

type sessionView struct {
	PrivateName   string                `json:"private_name"`
	DaemonVersion string                `json:"daemon_version"`
	RemoteAddr    string                `json:"remote_addr,omitempty"`
	Membership    bool                  `json:"membership"`
	Groups        []string              `json:"groups"`
	Requests      []spread.GroupRequest `json:"requests"`
	Received      uint64                `json:"received"`
}

func (s *Server) registerRoutes() {
	s.router.GET("/health", func(c *gin.Context) {
		c.JSON(http.StatusOK, gin.H{
			"status":  "ok",
			"uptime":  time.Since(s.Appeared).String(),
			"service": s.ID,
			"version": Version,
		})
	})

	s.router.GET("/metrics", gin.WrapH(promhttp.Handler()))

	s.router.GET("/ready", func(c *gin.Context) {
		_, err := s.current()
		status := http.StatusOK
		if err != nil {
			status = http.StatusServiceUnavailable
		}
		body := gin.H{
			"ready":   err == nil,
			"uptime":  time.Since(s.Appeared).String(),
			"service": s.ID,
			"version": Version,
		}
		if err != nil {
			body["error"] = err.Error()
		}
		c.JSON(status, body)
	})

	s.router.GET("/session", func(c *gin.Context) {
		sess, err := s.current()
		if err != nil {
			c.JSON(http.StatusServiceUnavailable, gin.H{"error": err.Error()})
			return
		}
		s.mu.RLock()
		received := s.received
		s.mu.RUnlock()
		groups := sess.Groups()
		if groups == nil {
			groups = []string{}
		}
		c.JSON(http.StatusOK, sessionView{
			PrivateName:   sess.PrivateName(),
			DaemonVersion: sess.DaemonVersion().String(),
			RemoteAddr:    sess.RemoteAddr(),
			Membership:    sess.Membership(),
			Groups:        groups,
			Requests:      sess.Requests(),
			Received:      received,
		})
	})

	s.router.GET("/session/messages", func(c *gin.Context) {
		s.mu.RLock()
		out := make([]Received, len(s.recent))
		copy(out, s.recent)
		s.mu.RUnlock()
		c.JSON(http.StatusOK, gin.H{"messages": out})
	})

	s.router.POST("/groups/:group/messages", s.requireToken(), func(c *gin.Context) {
		sess, err := s.current()
		if err != nil {
			c.JSON(http.StatusServiceUnavailable, gin.H{"error": err.Error()})
			return
		}
		data, err := io.ReadAll(io.LimitReader(c.Request.Body, maxPostBytes+1))
		if err != nil {
			c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
			return
		}
		if len(data) > maxPostBytes {
			c.JSON(http.StatusRequestEntityTooLarge, gin.H{"error": "payload too large"})
			return
		}
		group := c.Param("group")
		if err := sess.Multicast(c.Request.Context(), []string{group}, data); err != nil {
			c.JSON(multicastStatus(err), gin.H{"error": err.Error()})
			return
		}
		c.JSON(http.StatusAccepted, gin.H{"status": "sent", "group": group, "bytes": len(data)})
	})
}

func multicastStatus(err error) int {
	switch {
	case errors.Is(err, protocol.ErrEncodingFailed):
		return http.StatusBadRequest
	case errors.Is(err, spread.ErrSessionClosed):
		return http.StatusServiceUnavailable
	default:
		return http.StatusBadGateway
	}
}
