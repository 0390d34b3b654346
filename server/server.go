// Package server exposes collection and verification of cached bundles over
// HTTP.
package server

import (
	"errors"
	"fmt"
	"net/http"
	"strconv"

	"github.com/gin-gonic/gin"
	"github.com/sirupsen/logrus"

	"github.com/airchains-network/stateless-verifier/blocks"
	"github.com/airchains-network/stateless-verifier/client"
)

type Server struct {
	collector blocks.Collector
	store     *blocks.Store
	verifier  *client.Verifier
	log       *logrus.Logger
}

func New(collector blocks.Collector, store *blocks.Store, verifier *client.Verifier, log *logrus.Logger) *Server {
	return &Server{collector: collector, store: store, verifier: verifier, log: log}
}

// Handler returns the router serving the API.
func (s *Server) Handler() *gin.Engine {
	gin.SetMode(gin.ReleaseMode)

	router := gin.New()
	router.Use(gin.LoggerWithConfig(gin.LoggerConfig{
		Formatter: func(param gin.LogFormatterParams) string {
			return fmt.Sprintf("[API] %s - %s %s %d %s\n",
				param.TimeStamp.Format("2006-01-02 15:04:05"),
				param.Method,
				param.Path,
				param.StatusCode,
				param.Latency,
			)
		},
		Output: s.log.Writer(),
	}))
	router.Use(gin.Recovery())

	router.GET("/health", func(c *gin.Context) {
		c.JSON(http.StatusOK, gin.H{"status": "ok"})
	})
	blocksGroup := router.Group("/blocks/:number")
	blocksGroup.GET("", s.handleGet)
	blocksGroup.POST("/collect", s.handleCollect)
	blocksGroup.POST("/verify", s.handleVerify)
	return router
}

// Run serves the API on addr until it fails.
func (s *Server) Run(addr string) error {
	s.log.Infof("Starting API server on %s", addr)
	return s.Handler().Run(addr)
}

func blockNumber(c *gin.Context) (uint64, bool) {
	n, err := strconv.ParseUint(c.Param("number"), 10, 64)
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": fmt.Sprintf("invalid block number %q", c.Param("number"))})
		return 0, false
	}
	return n, true
}

func (s *Server) handleGet(c *gin.Context) {
	n, ok := blockNumber(c)
	if !ok {
		return
	}
	data, err := s.store.LoadRaw(n)
	if errors.Is(err, blocks.ErrNotCollected) {
		c.JSON(http.StatusNotFound, gin.H{"error": err.Error()})
		return
	}
	if err != nil {
		s.log.Errorf("Failed to load bundle of block %d: %v", n, err)
		c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
		return
	}
	c.Data(http.StatusOK, "application/octet-stream", data)
}

func (s *Server) handleCollect(c *gin.Context) {
	n, ok := blockNumber(c)
	if !ok {
		return
	}
	done, err := s.store.CollectAll(c.Request.Context(), s.collector, []uint64{n}, s.log)
	if err != nil {
		s.log.Errorf("Failed to collect block %d: %v", n, err)
		c.JSON(http.StatusBadGateway, gin.H{"error": err.Error()})
		return
	}
	c.JSON(http.StatusOK, gin.H{"number": n, "collected": len(done) == 1})
}

func (s *Server) handleVerify(c *gin.Context) {
	n, ok := blockNumber(c)
	if !ok {
		return
	}
	in, err := s.store.Load(n)
	if errors.Is(err, blocks.ErrNotCollected) {
		c.JSON(http.StatusNotFound, gin.H{"error": err.Error()})
		return
	}
	if err != nil {
		c.JSON(http.StatusUnprocessableEntity, gin.H{"error": err.Error(), "kind": client.ErrInvalidWitness.Error()})
		return
	}
	header, err := s.verifier.Execute(in)
	if err != nil {
		kind := client.KindOf(err)
		if kind == nil {
			kind = client.ErrExecutionFailed
		}
		s.log.WithFields(logrus.Fields{"block": n, "kind": kind}).Warnf("Verification failed: %v", err)
		c.JSON(http.StatusUnprocessableEntity, gin.H{"error": err.Error(), "kind": kind.Error()})
		return
	}
	c.JSON(http.StatusOK, gin.H{
		"number":     n,
		"hash":       header.Hash(),
		"state_root": header.Root,
	})
}
