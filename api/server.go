// Package api exposes the ledger over HTTP with gin.
package api

import (
	"log/slog"
	"net/http"
	"strconv"
	"time"

	"github.com/gin-contrib/cors"
	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/xraph/tokenledger"
	"github.com/xraph/tokenledger/auth"
	"github.com/xraph/tokenledger/webhook"
)

// MaxWebhookBody caps the size of a webhook delivery.
const MaxWebhookBody = 64 << 10

// Server holds the route dependencies.
type Server struct {
	ledger   *tokenledger.Ledger
	syncer   *webhook.Syncer
	verifier webhook.Verifier
	auth     *auth.Verifier
	authCfg  auth.MiddlewareConfig
	logger   *slog.Logger

	origins  []string
	gatherer prometheus.Gatherer
	requests *prometheus.HistogramVec
}

// Option configures a Server.
type Option func(*Server)

// WithLogger sets the logger.
func WithLogger(logger *slog.Logger) Option {
	return func(s *Server) { s.logger = logger }
}

// WithWebhook enables POST /webhooks/stripe.
func WithWebhook(v webhook.Verifier, syncer *webhook.Syncer) Option {
	return func(s *Server) {
		s.verifier = v
		s.syncer = syncer
	}
}

// WithAuth sets the bearer token verifier and middleware settings.
func WithAuth(v *auth.Verifier, cfg auth.MiddlewareConfig) Option {
	return func(s *Server) {
		s.auth = v
		s.authCfg = cfg
	}
}

// WithAllowedOrigins sets the CORS origins. Defaults to any origin.
func WithAllowedOrigins(origins ...string) Option {
	return func(s *Server) { s.origins = origins }
}

// WithMetrics registers request metrics on reg and serves gatherer at
// /metrics.
func WithMetrics(reg prometheus.Registerer, gatherer prometheus.Gatherer) Option {
	return func(s *Server) {
		s.requests = prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: "tokenledger",
			Subsystem: "http",
			Name:      "request_duration_seconds",
			Help:      "HTTP request latency by route and status.",
			Buckets:   prometheus.DefBuckets,
		}, []string{"method", "route", "status"})
		reg.MustRegister(s.requests)
		s.gatherer = gatherer
	}
}

// New creates a Server.
func New(ledger *tokenledger.Ledger, opts ...Option) *Server {
	s := &Server{
		ledger: ledger,
		logger: ledger.Logger(),
	}
	for _, opt := range opts {
		opt(s)
	}
	if s.authCfg.Logger == nil {
		s.authCfg.Logger = s.logger
	}
	return s
}

// Handler builds the router.
func (s *Server) Handler() http.Handler {
	router := gin.New()
	router.Use(gin.Recovery(), s.logRequests())
	if s.requests != nil {
		router.Use(s.observe())
	}

	corsCfg := cors.Config{
		AllowMethods: []string{"GET", "POST", "OPTIONS"},
		AllowHeaders: []string{"Origin", "Content-Type", "Accept", "Authorization"},
		MaxAge:       12 * time.Hour,
	}
	if len(s.origins) == 0 {
		corsCfg.AllowAllOrigins = true
	} else {
		corsCfg.AllowOrigins = s.origins
	}
	router.Use(cors.New(corsCfg))

	router.GET("/health", s.health)
	router.GET("/v1/catalog", s.catalog)
	if s.gatherer != nil {
		router.GET("/metrics", gin.WrapH(promhttp.HandlerFor(s.gatherer, promhttp.HandlerOpts{})))
	}
	if s.syncer != nil && s.verifier != nil {
		router.POST("/webhooks/stripe", s.stripeWebhook)
	}

	users := router.Group("/v1/users/:userID")
	users.Use(auth.Middleware(s.auth, s.authCfg), auth.RequireSubject("userID"))
	users.GET("/tokens/balance", s.balance)
	users.GET("/tokens/history", s.history)
	users.GET("/tokens/check", s.check)
	users.POST("/tokens/debit", s.debit)
	users.POST("/tokens/record", s.record)
	users.POST("/tokens/initialize", s.initialize)
	users.GET("/subscription", s.subscription)

	return router
}

func (s *Server) logRequests() gin.HandlerFunc {
	return func(c *gin.Context) {
		start := time.Now()
		c.Next()
		s.logger.Debug("http request",
			"method", c.Request.Method,
			"path", c.Request.URL.Path,
			"status", c.Writer.Status(),
			"duration", time.Since(start),
		)
	}
}

func (s *Server) observe() gin.HandlerFunc {
	return func(c *gin.Context) {
		start := time.Now()
		c.Next()
		route := c.FullPath()
		if route == "" {
			route = "unmatched"
		}
		s.requests.WithLabelValues(c.Request.Method, route, strconv.Itoa(c.Writer.Status())).
			Observe(time.Since(start).Seconds())
	}
}

func (s *Server) health(c *gin.Context) {
	if err := s.ledger.Ping(c.Request.Context()); err != nil {
		s.logger.Warn("health check failed", "error", err)
		c.JSON(http.StatusServiceUnavailable, gin.H{"status": "unavailable"})
		return
	}
	c.JSON(http.StatusOK, gin.H{"status": "ok"})
}
