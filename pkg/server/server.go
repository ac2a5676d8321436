// Package server exposes a provider.Adapter over HTTP with gin and hosts the
// client-side push delivery receiver.
package server

import (
	"context"
	"errors"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"

	"github.com/shamank/ivxp-sdk-go/pkg/config"
	"github.com/shamank/ivxp-sdk-go/pkg/ivxperr"
	"github.com/shamank/ivxp-sdk-go/pkg/model"
	"github.com/shamank/ivxp-sdk-go/pkg/order"
	"github.com/shamank/ivxp-sdk-go/pkg/protocol"
	"github.com/shamank/ivxp-sdk-go/pkg/provider"
	"github.com/shamank/ivxp-sdk-go/pkg/stream"
)

// OrderLister is implemented by providers that can enumerate their orders.
type OrderLister interface {
	ListOrders(ctx context.Context, f order.Filter) ([]*model.Order, error)
}

// Options configure a Server.
type Options struct {
	// PathPrefix is prepended to every route. Defaults to config.DefaultPathPrefix.
	PathPrefix string
	RateLimit  config.RateLimit
	// Hub enables GET /stream/:order_id.
	Hub *stream.Hub
	// AdminToken enables GET /orders for callers presenting it as a bearer
	// token. Empty disables the route.
	AdminToken string
	// Orders backs GET /orders.
	Orders OrderLister
}

// Server routes protocol requests to an Adapter.
type Server struct {
	adapter provider.Adapter
	opts    Options
	engine  *gin.Engine
	limiter *ipLimiter
}

// New builds the gin router for adapter.
func New(adapter provider.Adapter, opts Options) *Server {
	if opts.PathPrefix == "" {
		opts.PathPrefix = config.DefaultPathPrefix
	}
	opts.PathPrefix = "/" + strings.Trim(opts.PathPrefix, "/")

	gin.SetMode(gin.ReleaseMode)
	s := &Server{adapter: adapter, opts: opts, engine: gin.New()}
	s.engine.Use(gin.Recovery(), requestLogger())
	if opts.RateLimit.RPS > 0 {
		s.limiter = newIPLimiter(opts.RateLimit.RPS, opts.RateLimit.Burst)
	}
	s.routes()
	return s
}

func (s *Server) routes() {
	g := s.engine.Group(s.opts.PathPrefix)
	g.GET("/healthz", s.healthz)

	api := g.Group("")
	if s.limiter != nil {
		api.Use(s.limiter.middleware())
	}
	api.GET("/catalog", s.catalog)
	api.POST("/request", s.request)
	api.POST("/deliver", s.deliver)
	api.GET("/status/:order_id", s.status)
	api.GET("/download/:order_id", s.download)
	if s.opts.Hub != nil {
		api.GET("/stream/:order_id", s.stream)
	}
	if s.opts.AdminToken != "" && s.opts.Orders != nil {
		api.GET("/orders", s.requireToken(), s.orders)
	}
}

// Handler returns the HTTP handler serving all routes.
func (s *Server) Handler() http.Handler { return s.engine }

// Run serves on addr until ctx is done, then shuts down gracefully.
func (s *Server) Run(ctx context.Context, addr string) error {
	srv := &http.Server{
		Addr:              addr,
		Handler:           s.engine,
		ReadHeaderTimeout: 10 * time.Second,
	}
	errCh := make(chan error, 1)
	go func() {
		zap.L().Info("provider listening", zap.String("addr", addr), zap.String("prefix", s.opts.PathPrefix))
		errCh <- srv.ListenAndServe()
	}()
	select {
	case err := <-errCh:
		if errors.Is(err, http.ErrServerClosed) {
			return nil
		}
		return err
	case <-ctx.Done():
	}
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 15*time.Second)
	defer cancel()
	if s.opts.Hub != nil {
		s.opts.Hub.Close()
	}
	return srv.Shutdown(shutdownCtx)
}

func (s *Server) healthz(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{"status": "ok"})
}

func (s *Server) catalog(c *gin.Context) {
	cat, err := s.adapter.HandleCatalog(c.Request.Context())
	respond(c, cat, err)
}

func (s *Server) request(c *gin.Context) {
	raw, ok := readBody(c)
	if !ok {
		return
	}
	req, err := protocol.ParseServiceRequest(raw)
	if err != nil {
		respondError(c, err)
		return
	}
	quote, err := s.adapter.HandleRequest(c.Request.Context(), req)
	respond(c, quote, err)
}

func (s *Server) deliver(c *gin.Context) {
	raw, ok := readBody(c)
	if !ok {
		return
	}
	req, err := protocol.ParseDeliveryRequest(raw)
	if err != nil {
		respondError(c, err)
		return
	}
	ack, err := s.adapter.HandleDeliver(c.Request.Context(), req)
	respond(c, ack, err)
}

func (s *Server) status(c *gin.Context) {
	st, err := s.adapter.HandleStatus(c.Request.Context(), c.Param("order_id"))
	respond(c, st, err)
}

func (s *Server) download(c *gin.Context) {
	d, err := s.adapter.HandleDownload(c.Request.Context(), c.Param("order_id"))
	respond(c, d, err)
}

func (s *Server) stream(c *gin.Context) {
	id := c.Param("order_id")
	if _, err := s.adapter.HandleStatus(c.Request.Context(), id); err != nil {
		respondError(c, err)
		return
	}
	s.opts.Hub.ServeSSE(c.Writer, c.Request, id, func() (stream.Event, bool) {
		st, err := s.adapter.HandleStatus(c.Request.Context(), id)
		if err != nil {
			return stream.Event{}, false
		}
		return stream.StatusEvent(id, st.Status, st.ContentHash), true
	})
}

func (s *Server) orders(c *gin.Context) {
	var f order.Filter
	for _, v := range c.QueryArray("status") {
		st, err := model.ParseStatus(v)
		if err != nil {
			respondError(c, ivxperr.InvalidParams("unknown status %q", v))
			return
		}
		f.Statuses = append(f.Statuses, st)
	}
	list, err := s.opts.Orders.ListOrders(c.Request.Context(), f)
	if err != nil {
		respondError(c, err)
		return
	}
	out := make([]*protocol.OrderStatusResponse, 0, len(list))
	for _, o := range list {
		out = append(out, protocol.StatusFromOrder(o))
	}
	c.JSON(http.StatusOK, gin.H{"orders": out})
}

func (s *Server) requireToken() gin.HandlerFunc {
	want := "Bearer " + s.opts.AdminToken
	return func(c *gin.Context) {
		if c.GetHeader("Authorization") != want {
			c.AbortWithStatusJSON(http.StatusUnauthorized, protocol.ErrorEnvelope{
				Error: ivxperr.New(ivxperr.CodeSignatureInvalid, "admin token required"),
			})
			return
		}
		c.Next()
	}
}

func readBody(c *gin.Context) ([]byte, bool) {
	raw, err := io.ReadAll(io.LimitReader(c.Request.Body, protocol.MaxMessageSize+1))
	if err != nil {
		respondError(c, ivxperr.Wrap(ivxperr.CodeInvalidMessage, err, "read request body"))
		return nil, false
	}
	return raw, true
}

func respond(c *gin.Context, v any, err error) {
	if err != nil {
		respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, v)
}

// respondError writes the protocol error envelope. Errors that are not
// protocol errors are logged and reported as internal.
func respondError(c *gin.Context, err error) {
	e, ok := ivxperr.As(err)
	if !ok {
		zap.L().Error("unhandled error", zap.String("path", c.FullPath()), zap.Error(err))
		e = ivxperr.New(ivxperr.CodeInternal, "internal error")
	}
	c.AbortWithStatusJSON(ivxperr.HTTPStatusOf(e), protocol.ErrorEnvelope{Error: e})
}

func requestLogger() gin.HandlerFunc {
	return func(c *gin.Context) {
		start := time.Now()
		c.Next()
		zap.L().Debug("request",
			zap.String("method", c.Request.Method),
			zap.String("path", c.Request.URL.Path),
			zap.Int("status", c.Writer.Status()),
			zap.Duration("latency", time.Since(start)),
			zap.String("client_ip", c.ClientIP()),
		)
	}
}
