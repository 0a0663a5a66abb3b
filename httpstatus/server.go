// Package httpstatus exposes the minimal read-only operational surface
// named in spec.md §6: health, status, and a debug flush trigger. The full
// CRUD admin API handlers/server.go offers is out of scope here (spec.md
// §1's non-goal); only the route-group shape and middleware are kept.
package httpstatus

import (
	"context"
	"net/http"
	"strings"
	"time"

	"github.com/gin-contrib/cors"
	"github.com/gin-gonic/gin"
	"github.com/rs/zerolog"

	"github.com/intenus/preranking/logging"
	"github.com/intenus/preranking/models"
)

const shutdownTimeout = 10 * time.Second
const slowRequestThreshold = 500 * time.Millisecond

// Coordinator is the subset of the Intent Lifecycle Coordinator the status
// surface reads from and triggers against.
type Coordinator interface {
	ActiveIntentCount() int
	Flush(ctx context.Context, intentID string)
}

// Ingestor is the subset of the Event Ingestor the status surface reads
// the current cursor from.
type Ingestor interface {
	CurrentCursor() models.Cursor
}

type Server struct {
	coordinator Coordinator
	ingestor    Ingestor
	log         zerolog.Logger
	srv         *http.Server

	lastPollTS time.Time
}

func New(coordinator Coordinator, ingestor Ingestor, addr string, log zerolog.Logger) *Server {
	log = logging.Module(log, "httpstatus")
	gin.SetMode(gin.ReleaseMode)
	router := gin.New()
	router.Use(zerologMiddleware(log), cors.New(corsConfig()), gin.Recovery())

	s := &Server{coordinator: coordinator, ingestor: ingestor, log: log}

	router.GET("/health", s.handleHealth)
	router.GET("/status", s.handleStatus)
	router.POST("/debug/flush/:intent_id", s.handleDebugFlush)

	s.srv = &http.Server{Addr: addr, Handler: router}
	return s
}

func (s *Server) handleHealth(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{"status": "ok"})
}

func (s *Server) handleStatus(c *gin.Context) {
	cursor := s.ingestor.CurrentCursor()
	c.JSON(http.StatusOK, gin.H{
		"active_intent_count": s.coordinator.ActiveIntentCount(),
		"current_cursor": gin.H{
			"event_seq": cursor.EventSeq,
			"tx_digest": cursor.TxDigest,
		},
		"last_poll_ts": s.lastPollTS,
	})
}

func (s *Server) handleDebugFlush(c *gin.Context) {
	intentID := c.Param("intent_id")
	if intentID == "" {
		c.JSON(http.StatusBadRequest, gin.H{"error": "intent_id is required"})
		return
	}
	s.coordinator.Flush(c.Request.Context(), intentID)
	c.JSON(http.StatusAccepted, gin.H{"triggered": intentID})
}

// NotePoll records the time of the ingestor's most recent tick, surfaced
// through /status's last_poll_ts.
func (s *Server) NotePoll(at time.Time) {
	s.lastPollTS = at
}

// Serve starts the server and blocks until ctx is cancelled, mirroring
// http.StartAsync's listen/shutdown shape.
func (s *Server) Serve(ctx context.Context) error {
	errCh := make(chan error, 1)
	go func() {
		s.log.Info().Str("addr", s.srv.Addr).Msg("starting operational HTTP server")
		errCh <- s.srv.ListenAndServe()
	}()

	select {
	case <-ctx.Done():
		shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
		defer cancel()
		if err := s.srv.Shutdown(shutdownCtx); err != nil {
			s.log.Error().Err(err).Msg("failed to shut down operational HTTP server")
			return err
		}
		return nil
	case err := <-errCh:
		if err != nil && err != http.ErrServerClosed {
			s.log.Error().Err(err).Msg("operational HTTP server stopped unexpectedly")
			return err
		}
		return nil
	}
}

func corsConfig() cors.Config {
	config := cors.DefaultConfig()
	config.AllowOrigins = strings.Split("*", ",")
	config.AllowMethods = []string{"GET", "POST"}
	config.AllowHeaders = []string{"Origin", "Content-Type", "Accept"}
	return config
}

func zerologMiddleware(log zerolog.Logger) gin.HandlerFunc {
	return func(c *gin.Context) {
		start := time.Now()
		c.Next()
		latency := time.Since(start)

		event := log.Info()
		if latency > slowRequestThreshold {
			event = log.Warn()
		}
		event.
			Str("http.method", c.Request.Method).
			Str("http.path", c.Request.URL.Path).
			Int("http.status", c.Writer.Status()).
			Dur("http.latency", latency).
			Msg("HTTP request")
	}
}
