// Copyright 2026 The autoheal Authors. All rights reserved.
// Use of this source code is governed by a MIT-style
// license that can be found in the LICENSE file.

package api

import (
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
	log "github.com/sirupsen/logrus"
	"github.com/traylinx/autoheal/internal/logging"
	"github.com/traylinx/autoheal/internal/util"
)

const requestIDHeader = "X-Request-ID"

// requestLogger tags each request with an ID and logs it once served.
func requestLogger() gin.HandlerFunc {
	return func(c *gin.Context) {
		id := c.GetHeader(requestIDHeader)
		if id == "" {
			id = logging.NewRequestID()
		}
		c.Header(requestIDHeader, id)
		c.Request = c.Request.WithContext(logging.WithRequestID(c.Request.Context(), id))

		start := time.Now()
		c.Next()

		logging.FromContext(c.Request.Context()).WithFields(log.Fields{
			"status":  c.Writer.Status(),
			"latency": time.Since(start).Round(time.Microsecond),
		}).Debugf("%s %s", c.Request.Method, c.Request.URL.Path)
	}
}

func localOnly() gin.HandlerFunc {
	return func(c *gin.Context) {
		if !util.IsLocalhostDirect(c) {
			c.AbortWithStatusJSON(http.StatusForbidden, gin.H{"error": "management API is restricted to localhost"})
			return
		}
		c.Next()
	}
}

// getHealth answers 503 when the AI path is unhealthy so load balancers can act on it.
func (s *Server) getHealth(c *gin.Context) {
	h := s.backend.Health()
	code := http.StatusOK
	if !h.Healthy {
		code = http.StatusServiceUnavailable
	}
	c.JSON(code, h)
}

func (s *Server) getMetrics(c *gin.Context) {
	h := s.backend.Health()
	c.JSON(http.StatusOK, gin.H{
		"locator":         h.Locator,
		"ai":              h.AI,
		"circuit_breaker": h.CircuitBreaker,
		"cache":           h.Cache,
		"is_healthy":      h.Healthy,
	})
}

func (s *Server) resetMetrics(c *gin.Context) {
	s.backend.ResetMetrics()
	c.JSON(http.StatusOK, gin.H{"success": true})
}

func (s *Server) getCacheMetrics(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{
		"size":    s.backend.CacheSize(),
		"metrics": s.backend.CacheMetrics(),
	})
}

func (s *Server) clearCache(c *gin.Context) {
	before := s.backend.CacheSize()
	s.backend.ClearCache()
	log.Infof("selector cache cleared (%d entries)", before)
	c.JSON(http.StatusOK, gin.H{"success": true, "cleared": before})
}

func (s *Server) evictExpired(c *gin.Context) {
	before := s.backend.CacheSize()
	s.backend.EvictExpired()
	after := s.backend.CacheSize()
	c.JSON(http.StatusOK, gin.H{"success": true, "evicted": before - after, "size": after})
}

type removeEntryRequest struct {
	Selector    string `form:"selector" json:"selector" binding:"required"`
	Description string `form:"description" json:"description"`
}

func (s *Server) removeEntry(c *gin.Context) {
	var req removeEntryRequest
	if err := c.ShouldBindQuery(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "selector is required"})
		return
	}
	if !s.backend.RemoveCached(req.Selector, req.Description) {
		c.JSON(http.StatusNotFound, gin.H{"success": false, "error": "no cached selector for that key"})
		return
	}
	c.JSON(http.StatusOK, gin.H{"success": true})
}
