// Copyright (C) 2025, ADXYZ Inc. All rights reserved.
// See the file LICENSE for licensing terms.

// Package api exposes extraction and inspection runs over HTTP
package api

import (
	"context"
	"errors"
	"io"
	"net/http"
	"strings"
	"sync"
	"time"

	"github.com/gin-contrib/cors"
	"github.com/gin-gonic/gin"
	"github.com/goccy/go-json"
	"github.com/google/uuid"
	"github.com/gorilla/websocket"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/luxfi/vastinspect/pkg/inspector"
	"github.com/luxfi/vastinspect/pkg/ledger"
	"github.com/luxfi/vastinspect/pkg/lifecycle"
	"github.com/luxfi/vastinspect/pkg/log"
	"github.com/luxfi/vastinspect/pkg/macro"
	"github.com/luxfi/vastinspect/pkg/metric"
	"github.com/luxfi/vastinspect/pkg/player"
	"github.com/luxfi/vastinspect/pkg/simid"
	"github.com/luxfi/vastinspect/pkg/transport"
	"github.com/luxfi/vastinspect/pkg/vast"
)

// Surface modes for a run
const (
	SurfaceSimulated = "simulated"
	SurfaceRemote    = "remote"
)

const maxBodySize = 4 << 20

var errSourceKind = errors.New("source must be an http(s) URL or VAST markup")

// Config holds server settings
type Config struct {
	CORSOrigins []string
	Release     bool

	// Environment seeds macro substitution and the control session init
	Environment macro.Context
	SettleDelay time.Duration

	// NewLedger builds the ledger for each load
	NewLedger func() *ledger.Ledger

	// Simulated surface clock
	Tick  time.Duration
	Speed float64
}

// Server is the HTTP surface
type Server struct {
	cfg       Config
	router    *gin.Engine
	transport *transport.Transport
	log       log.Logger
	metrics   *metric.Metrics
	upgrader  websocket.Upgrader

	mu   sync.Mutex
	runs map[string]*runEntry
}

// runEntry is a run and what it is waiting on. A remote run has no
// inspector run until its player page connects.
type runEntry struct {
	id      string
	mode    string
	doc     *vast.Document
	run     *inspector.Run
	sim     *player.Simulated
	pending simid.Channel
	created time.Time
}

// NewServer builds the router
func NewServer(cfg Config, tr *transport.Transport, logger log.Logger, metrics *metric.Metrics) *Server {
	if logger == nil {
		logger = log.NoOp()
	}
	if metrics == nil {
		metrics = metric.Nop()
	}
	if cfg.NewLedger == nil {
		cfg.NewLedger = func() *ledger.Ledger {
			return ledger.New(ledger.WithLogger(logger), ledger.WithMetrics(metrics))
		}
	}
	s := &Server{
		cfg:       cfg,
		transport: tr,
		log:       logger,
		metrics:   metrics,
		runs:      make(map[string]*runEntry),
		upgrader: websocket.Upgrader{
			ReadBufferSize:  4096,
			WriteBufferSize: 4096,
			CheckOrigin:     func(*http.Request) bool { return true },
		},
	}
	s.router = s.setupRouter()
	return s
}

// Handler returns the http.Handler
func (s *Server) Handler() http.Handler {
	return s.router
}

func (s *Server) setupRouter() *gin.Engine {
	if s.cfg.Release {
		gin.SetMode(gin.ReleaseMode)
	}

	router := gin.New()
	router.Use(gin.Recovery(), s.requestLogger())

	config := cors.DefaultConfig()
	if len(s.cfg.CORSOrigins) > 0 {
		config.AllowOrigins = s.cfg.CORSOrigins
	} else {
		config.AllowAllOrigins = true
	}
	config.AllowMethods = []string{"GET", "POST", "DELETE", "OPTIONS"}
	config.AllowHeaders = []string{"Origin", "Content-Type", "Accept"}
	router.Use(cors.New(config))

	router.GET("/health", func(c *gin.Context) {
		c.JSON(http.StatusOK, gin.H{
			"status": "healthy",
			"time":   time.Now().Unix(),
		})
	})
	router.GET("/metrics", gin.WrapH(promhttp.HandlerFor(s.metrics.GetGatherer(), promhttp.HandlerOpts{})))

	api := router.Group("/api/v1")
	{
		api.POST("/extract", s.handleExtract)
		api.DELETE("/cache", s.handlePurgeCache)

		api.POST("/runs", s.handleCreateRun)
		api.GET("/runs", s.handleListRuns)
		api.GET("/runs/:id", s.handleGetRun)
		api.DELETE("/runs/:id", s.handleDeleteRun)
		api.POST("/runs/:id/commands", s.handleCommand)
		api.GET("/runs/:id/notifications", s.handleNotifications)

		api.GET("/runs/:id/player", s.handlePlayerSocket)
		api.GET("/runs/:id/creative", s.handleCreativeSocket)
	}
	return router
}

func (s *Server) requestLogger() gin.HandlerFunc {
	return func(c *gin.Context) {
		start := time.Now()
		c.Next()
		s.log.Debug("request",
			log.String("method", c.Request.Method),
			log.String("path", c.FullPath()),
			log.Int("status", c.Writer.Status()),
			log.Duration("latency", time.Since(start)),
		)
	}
}

// sourceRequest names a document by URL or carries its markup
type sourceRequest struct {
	Source  string `json:"source"`
	Surface string `json:"surface"`
}

// readSource accepts either a JSON body with source, or raw XML
func (s *Server) readSource(c *gin.Context) (sourceRequest, error) {
	body, err := io.ReadAll(io.LimitReader(c.Request.Body, maxBodySize))
	if err != nil {
		return sourceRequest{}, err
	}
	var req sourceRequest
	trimmed := strings.TrimSpace(string(body))
	if strings.HasPrefix(trimmed, "{") {
		if err := json.Unmarshal(body, &req); err != nil {
			return sourceRequest{}, err
		}
	} else {
		req.Source = trimmed
	}
	if !remoteOrLiteral(req.Source) {
		return sourceRequest{}, errSourceKind
	}
	if q := c.Query("surface"); q != "" {
		req.Surface = q
	}
	return req, nil
}

func (s *Server) load(ctx context.Context, source string) (*vast.Document, *vast.Catalog, transport.Source, error) {
	raw, src, err := s.transport.FetchOrProvide(ctx, source)
	if err != nil {
		return nil, nil, src, err
	}
	doc, cat, err := vast.ParseAndExtract(raw)
	return doc, cat, src, err
}

func (s *Server) handleExtract(c *gin.Context) {
	req, err := s.readSource(c)
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}
	doc, cat, src, err := s.load(c.Request.Context(), req.Source)
	if err != nil {
		c.JSON(statusFor(err), gin.H{"error": err.Error()})
		return
	}
	c.JSON(http.StatusOK, gin.H{
		"source":        src,
		"document":      doc,
		"catalog":       cat,
		"unknownMacros": cat.UnknownMacros(),
	})
}

// handlePurgeCache drops every cached document so the next fetch goes
// upstream
func (s *Server) handlePurgeCache(c *gin.Context) {
	s.transport.Purge()
	c.Status(http.StatusNoContent)
}

func (s *Server) handleCreateRun(c *gin.Context) {
	req, err := s.readSource(c)
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}
	mode := req.Surface
	if mode == "" {
		mode = SurfaceSimulated
	}
	if mode != SurfaceSimulated && mode != SurfaceRemote {
		c.JSON(http.StatusBadRequest, gin.H{"error": "surface must be simulated or remote"})
		return
	}

	doc, _, _, err := s.load(c.Request.Context(), req.Source)
	if err != nil {
		c.JSON(statusFor(err), gin.H{"error": err.Error()})
		return
	}

	e := &runEntry{id: uuid.NewString(), mode: mode, doc: doc, created: time.Now()}
	if mode == SurfaceSimulated {
		e.sim = player.NewSimulated(
			player.WithTick(s.cfg.Tick),
			player.WithSpeed(s.cfg.Speed),
			player.WithSize(s.cfg.Environment.PlayerWidth, s.cfg.Environment.PlayerHeight),
			player.WithDuration(doc.LinearDuration()),
		)
		e.run = s.newRun(e.sim)
		if _, err := e.run.LoadDocument(doc); err != nil {
			e.run.Close()
			_ = e.sim.Close()
			c.JSON(statusFor(err), gin.H{"error": err.Error()})
			return
		}
	}

	s.mu.Lock()
	s.runs[e.id] = e
	s.mu.Unlock()

	s.log.Info("run created", log.String("id", e.id), log.String("surface", mode))
	c.JSON(http.StatusCreated, s.view(e))
}

func (s *Server) newRun(surface lifecycle.MediaSurface, opts ...inspector.Option) *inspector.Run {
	opts = append([]inspector.Option{
		inspector.WithLedgerFactory(s.cfg.NewLedger),
		inspector.WithEnvironment(s.cfg.Environment),
		inspector.WithLogger(s.log),
		inspector.WithMetrics(s.metrics),
	}, opts...)
	if s.cfg.SettleDelay > 0 {
		opts = append(opts, inspector.WithSessionOptions(simid.WithSettleDelay(s.cfg.SettleDelay)))
	}
	return inspector.New(surface, opts...)
}

func (s *Server) handleListRuns(c *gin.Context) {
	s.mu.Lock()
	entries := make([]*runEntry, 0, len(s.runs))
	for _, e := range s.runs {
		entries = append(entries, e)
	}
	s.mu.Unlock()

	views := make([]gin.H, 0, len(entries))
	for _, e := range entries {
		views = append(views, s.view(e))
	}
	c.JSON(http.StatusOK, gin.H{"runs": views, "total": len(views)})
}

func (s *Server) handleGetRun(c *gin.Context) {
	e, ok := s.entry(c)
	if !ok {
		return
	}
	c.JSON(http.StatusOK, s.view(e))
}

func (s *Server) handleDeleteRun(c *gin.Context) {
	id := c.Param("id")
	s.mu.Lock()
	e, ok := s.runs[id]
	delete(s.runs, id)
	s.mu.Unlock()
	if !ok {
		c.JSON(http.StatusNotFound, gin.H{"error": "run not found"})
		return
	}
	s.closeEntry(e)
	c.JSON(http.StatusOK, gin.H{"id": id, "deleted": true})
}

type commandRequest struct {
	Action string  `json:"action" binding:"required"`
	Volume float64 `json:"volume"`
	Seek   float64 `json:"seek"`
}

func (s *Server) handleCommand(c *gin.Context) {
	e, ok := s.entry(c)
	if !ok {
		return
	}
	var req commandRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}
	run := s.runOf(e)
	if run == nil {
		c.JSON(http.StatusConflict, gin.H{"error": "player not connected"})
		return
	}

	m := run.Machine()
	var err error
	resp := gin.H{"action": req.Action}
	switch req.Action {
	case "play":
		err = m.Play()
	case "pause":
		err = m.Pause()
	case "skip":
		err = m.Skip()
	case "click":
		var target string
		target, err = m.Click()
		resp["clickThrough"] = target
	case "fullscreen":
		err = m.SetFullscreen(true)
	case "exitFullscreen":
		err = m.SetFullscreen(false)
	case "mute", "unmute":
		if e.sim != nil {
			err = e.sim.SetMuted(req.Action == "mute")
		} else {
			err = errors.New("volume is controlled by the player page")
		}
	case "volume":
		if e.sim != nil {
			err = e.sim.SetVolume(req.Volume)
		} else {
			err = errors.New("volume is controlled by the player page")
		}
	case "seek":
		if e.sim == nil {
			err = errors.New("seek is only available on simulated runs")
			break
		}
		e.sim.Seek(time.Duration(req.Seek * float64(time.Second)))
	case "reset":
		run.Reset()
		_, err = run.LoadDocument(e.doc)
	default:
		c.JSON(http.StatusBadRequest, gin.H{"error": "unknown action " + req.Action})
		return
	}
	if err != nil {
		c.JSON(statusFor(err), gin.H{"error": err.Error()})
		return
	}
	c.JSON(http.StatusOK, resp)
}

func (s *Server) handleNotifications(c *gin.Context) {
	e, ok := s.entry(c)
	if !ok {
		return
	}
	run := s.runOf(e)
	if run == nil {
		c.JSON(http.StatusOK, gin.H{"notifications": []lifecycle.Notification{}})
		return
	}
	c.JSON(http.StatusOK, gin.H{"notifications": run.History()})
}

// handlePlayerSocket attaches a remote player page to a remote run
func (s *Server) handlePlayerSocket(c *gin.Context) {
	e, ok := s.entry(c)
	if !ok {
		return
	}
	if e.mode != SurfaceRemote {
		c.JSON(http.StatusConflict, gin.H{"error": "run does not use a remote surface"})
		return
	}
	if s.runOf(e) != nil {
		c.JSON(http.StatusConflict, gin.H{"error": "player already connected"})
		return
	}

	conn, err := s.upgrader.Upgrade(c.Writer, c.Request, nil)
	if err != nil {
		s.log.Warn("player upgrade failed", log.Error(err))
		return
	}
	remote := player.NewRemote(conn, s.log)

	s.mu.Lock()
	if e.run != nil {
		s.mu.Unlock()
		_ = remote.Close()
		return
	}
	var opts []inspector.Option
	if e.pending != nil {
		opts = append(opts, inspector.WithChannel(e.pending))
		e.pending = nil
	}
	run := s.newRun(remote, opts...)
	e.run = run
	s.mu.Unlock()

	stream, release := run.Subscribe()
	go func() {
		for n := range stream {
			if err := remote.Notify(n); err != nil {
				return
			}
		}
	}()

	if _, err := run.LoadDocument(e.doc); err != nil {
		s.log.Warn("remote run load failed", log.String("id", e.id), log.Error(err))
		_ = remote.Notify(lifecycle.Notification{Type: "loadFailed", Message: err.Error(), Timestamp: time.Now()})
	}

	go func() {
		<-remote.Done()
		release()
		s.mu.Lock()
		if e.run == run {
			e.run = nil
		}
		s.mu.Unlock()
		run.Close()
	}()
}

// handleCreativeSocket attaches the interactive creative's control channel
func (s *Server) handleCreativeSocket(c *gin.Context) {
	e, ok := s.entry(c)
	if !ok {
		return
	}
	conn, err := s.upgrader.Upgrade(c.Writer, c.Request, nil)
	if err != nil {
		s.log.Warn("creative upgrade failed", log.Error(err))
		return
	}
	ch := simid.NewWSChannel(conn, s.log)

	s.mu.Lock()
	run := e.run
	if run == nil {
		e.pending = ch
	}
	s.mu.Unlock()

	if run != nil {
		run.AttachChannel(ch)
	}
}

func (s *Server) entry(c *gin.Context) (*runEntry, bool) {
	s.mu.Lock()
	e, ok := s.runs[c.Param("id")]
	s.mu.Unlock()
	if !ok {
		c.JSON(http.StatusNotFound, gin.H{"error": "run not found"})
	}
	return e, ok
}

func (s *Server) runOf(e *runEntry) *inspector.Run {
	s.mu.Lock()
	defer s.mu.Unlock()
	return e.run
}

func (s *Server) view(e *runEntry) gin.H {
	v := gin.H{
		"id":      e.id,
		"surface": e.mode,
		"created": e.created,
	}
	run := s.runOf(e)
	if run == nil {
		v["state"] = "waitingForPlayer"
		return v
	}
	v["run"] = run.Snapshot()
	v["state"] = run.Machine().State()
	return v
}

func (s *Server) closeEntry(e *runEntry) {
	s.mu.Lock()
	run, pending := e.run, e.pending
	e.run, e.pending = nil, nil
	s.mu.Unlock()

	if run != nil {
		run.Close()
	}
	if e.sim != nil {
		_ = e.sim.Close()
	}
	if c, ok := pending.(*simid.WSChannel); ok {
		_ = c.Close()
	}
}

// Close discards every run
func (s *Server) Close() {
	s.mu.Lock()
	entries := make([]*runEntry, 0, len(s.runs))
	for id, e := range s.runs {
		entries = append(entries, e)
		delete(s.runs, id)
	}
	s.mu.Unlock()
	for _, e := range entries {
		s.closeEntry(e)
	}
}

// statusFor maps package errors onto HTTP status codes
func statusFor(err error) int {
	var se *transport.StatusError
	switch {
	case errors.Is(err, transport.ErrEmptyInput):
		return http.StatusBadRequest
	case errors.Is(err, transport.ErrTooLarge):
		return http.StatusRequestEntityTooLarge
	case errors.As(err, &se):
		return http.StatusBadGateway
	case errors.Is(err, vast.ErrNotAnAdDocument), errors.Is(err, vast.ErrMalformed):
		return http.StatusUnprocessableEntity
	case errors.Is(err, inspector.ErrNoPlayableAd), errors.Is(err, lifecycle.ErrNoPlayableMedia),
		errors.Is(err, lifecycle.ErrNoLinear):
		return http.StatusUnprocessableEntity
	case errors.Is(err, lifecycle.ErrNotLoaded), errors.Is(err, lifecycle.ErrNotPlaying),
		errors.Is(err, lifecycle.ErrNotSkippable), errors.Is(err, lifecycle.ErrNotIdle):
		return http.StatusConflict
	case errors.Is(err, lifecycle.ErrNoClick):
		return http.StatusNotFound
	case errors.Is(err, context.DeadlineExceeded):
		return http.StatusGatewayTimeout
	}
	return http.StatusBadGateway
}

// remoteOrLiteral keeps server-side file paths out of reach of clients
func remoteOrLiteral(source string) bool {
	src := strings.ToLower(strings.TrimSpace(source))
	return src == "" || strings.HasPrefix(src, "<") ||
		strings.HasPrefix(src, "http://") || strings.HasPrefix(src, "https://")
}
