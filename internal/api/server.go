// Package api serves a node's proofs and round data to peers and operators.
//
// Peers call GET /rounds/:round/proof to discover which CID to audit. A node
// without an IPFS daemon can also serve its artifacts itself under
// /ipfs/:cid/:name, which makes it usable as a retrieval gateway.
package api

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"strconv"
	"sync"
	"time"

	"github.com/gin-gonic/gin"

	"github.com/nao1215/roundscout/internal/model"
	"github.com/nao1215/roundscout/internal/storage"
)

// Store is the read side of the node database. database.Store satisfies it.
type Store interface {
	GetProof(ctx context.Context, round int64) (*model.ProofRecord, error)
	ListProofs(ctx context.Context, limit int) ([]model.ProofRecord, error)
	ListRecords(ctx context.Context, round int64) ([]model.Record, error)
	ListAudits(ctx context.Context, round int64) ([]model.AuditResult, error)
	GetSearchTerm(ctx context.Context, round int64) (string, error)
}

// ginMode is set once; gin keeps the mode in a package variable.
var ginMode sync.Once

// Server is the HTTP API of a node.
type Server struct {
	store  Store
	local  storage.Client
	logger *slog.Logger
	engine *gin.Engine
}

// Option configures a Server.
type Option func(*Server)

// WithLogger sets the logger.
func WithLogger(logger *slog.Logger) Option {
	return func(s *Server) {
		s.logger = logger
	}
}

// WithArtifacts serves artifacts from client under /ipfs/:cid/:name.
func WithArtifacts(client storage.Client) Option {
	return func(s *Server) {
		s.local = client
	}
}

// NewServer creates a Server.
func NewServer(store Store, opts ...Option) *Server {
	s := &Server{store: store}
	for _, opt := range opts {
		opt(s)
	}
	if s.logger == nil {
		s.logger = slog.Default()
	}

	ginMode.Do(func() { gin.SetMode(gin.ReleaseMode) })
	r := gin.New()
	r.Use(gin.Recovery(), s.requestLogger())

	r.GET("/healthz", s.healthHandler)
	r.GET("/proofs", s.listProofsHandler)
	r.GET("/rounds/:round/proof", s.proofHandler)
	r.GET("/rounds/:round/records", s.recordsHandler)
	r.GET("/rounds/:round/audits", s.auditsHandler)
	if s.local != nil {
		r.GET("/ipfs/:cid/:name", s.artifactHandler)
	}

	s.engine = r
	return s
}

// Handler returns the HTTP handler.
func (s *Server) Handler() http.Handler {
	return s.engine
}

// ListenAndServe serves on addr until ctx is canceled.
func (s *Server) ListenAndServe(ctx context.Context, addr string) error {
	srv := &http.Server{
		Addr:              addr,
		Handler:           s.engine,
		ReadHeaderTimeout: 10 * time.Second,
	}

	errCh := make(chan error, 1)
	go func() {
		s.logger.Info("api listening", "addr", addr)
		errCh <- srv.ListenAndServe()
	}()

	select {
	case err := <-errCh:
		if errors.Is(err, http.ErrServerClosed) {
			return nil
		}
		return fmt.Errorf("api server failed: %w", err)
	case <-ctx.Done():
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		return srv.Shutdown(shutdownCtx) //nolint:contextcheck // parent is already canceled
	}
}

func (s *Server) requestLogger() gin.HandlerFunc {
	return func(c *gin.Context) {
		start := time.Now()
		c.Next()
		s.logger.Debug("api request",
			"method", c.Request.Method,
			"path", c.Request.URL.Path,
			"status", c.Writer.Status(),
			"elapsed", time.Since(start),
		)
	}
}

func roundParam(c *gin.Context) (int64, bool) {
	round, err := strconv.ParseInt(c.Param("round"), 10, 64)
	if err != nil || round < 0 {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid round"})
		return 0, false
	}
	return round, true
}

func (s *Server) healthHandler(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{"status": "ok"})
}

func (s *Server) listProofsHandler(c *gin.Context) {
	limit := 0
	if v := c.Query("limit"); v != "" {
		n, err := strconv.Atoi(v)
		if err != nil || n < 0 {
			c.JSON(http.StatusBadRequest, gin.H{"error": "invalid limit"})
			return
		}
		limit = n
	}

	proofs, err := s.store.ListProofs(c.Request.Context(), limit)
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
		return
	}
	c.JSON(http.StatusOK, gin.H{"proofs": proofs, "count": len(proofs)})
}

func (s *Server) proofHandler(c *gin.Context) {
	round, ok := roundParam(c)
	if !ok {
		return
	}

	proof, err := s.store.GetProof(c.Request.Context(), round)
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
		return
	}
	if proof == nil {
		c.JSON(http.StatusNotFound, gin.H{"error": "no proof for round"})
		return
	}
	c.JSON(http.StatusOK, proof)
}

func (s *Server) recordsHandler(c *gin.Context) {
	round, ok := roundParam(c)
	if !ok {
		return
	}

	ctx := c.Request.Context()
	records, err := s.store.ListRecords(ctx, round)
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
		return
	}
	term, err := s.store.GetSearchTerm(ctx, round)
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
		return
	}
	c.JSON(http.StatusOK, gin.H{
		"round":       round,
		"search_term": term,
		"records":     records,
		"count":       len(records),
	})
}

func (s *Server) auditsHandler(c *gin.Context) {
	round, ok := roundParam(c)
	if !ok {
		return
	}

	audits, err := s.store.ListAudits(c.Request.Context(), round)
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
		return
	}
	c.JSON(http.StatusOK, gin.H{"round": round, "audits": audits, "count": len(audits)})
}

func (s *Server) artifactHandler(c *gin.Context) {
	data, err := s.local.Get(c.Request.Context(), c.Param("cid"), c.Param("name"))
	var vErr *model.ValidationError
	switch {
	case errors.As(err, &vErr):
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	case errors.Is(err, model.ErrNotFound):
		c.JSON(http.StatusNotFound, gin.H{"error": "not found"})
		return
	case err != nil:
		c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
		return
	}
	c.Data(http.StatusOK, "application/json", data)
}
