package server

import (
	"log/slog"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/gin-gonic/gin"

	"github.com/rickgao/coinfeed/internal/connection"
	"github.com/rickgao/coinfeed/internal/market"
	"github.com/rickgao/coinfeed/internal/model"
	"github.com/rickgao/coinfeed/internal/version"
)

// QuoteCurrency is the ?currency= value that disables fiat conversion.
const QuoteCurrency = "quote"

const maxTopN = 50

type errorResponse struct {
	Error string `json:"error"`
}

type marketsResponse struct {
	Currency string        `json:"currency"`
	Rate     float64       `json:"rate"`
	Ready    bool          `json:"ready"`
	Entries  []model.Entry `json:"entries"`
}

type marketResponse struct {
	Currency string      `json:"currency"`
	Rate     float64     `json:"rate"`
	Entry    model.Entry `json:"entry"`
}

type summaryResponse struct {
	Currency string  `json:"currency"`
	Rate     float64 `json:"rate"`
	market.Summary
}

type healthResponse struct {
	Status     string                 `json:"status"`
	Version    version.Info           `json:"version"`
	Components map[string]interface{} `json:"components"`
}

func (s *Server) routes() *gin.Engine {
	r := gin.New()
	r.Use(gin.Recovery(), requestLogger(s.logger))

	r.GET("/health", s.handleHealth)
	r.GET("/markets", s.handleMarkets)
	r.GET("/markets/:symbol", s.handleMarket)
	r.GET("/summary", s.handleSummary)
	r.GET("/ws", s.handleWS)
	return r
}

// requestLogger logs one line per request.
func requestLogger(logger *slog.Logger) gin.HandlerFunc {
	return func(c *gin.Context) {
		start := time.Now()
		c.Next()
		logger.Debug("http request",
			"method", c.Request.Method,
			"path", c.Request.URL.Path,
			"status", c.Writer.Status(),
			"latency", time.Since(start),
		)
	}
}

// conversion resolves the currency and rate for a request.
func (s *Server) conversion(c *gin.Context) (string, float64) {
	if strings.EqualFold(c.Query("currency"), QuoteCurrency) {
		return QuoteCurrency, 1
	}
	return s.deps.Rate.Target(), s.deps.Rate.Current()
}

func convertAll(entries []model.Entry, r float64) []model.Entry {
	if r == 1 {
		return entries
	}
	out := make([]model.Entry, len(entries))
	for i, e := range entries {
		out[i] = market.ToFiat(e, r)
	}
	return out
}

func (s *Server) handleMarkets(c *gin.Context) {
	currency, r := s.conversion(c)
	entries := s.deps.Store.SnapshotAll()

	c.JSON(http.StatusOK, marketsResponse{
		Currency: currency,
		Rate:     r,
		Ready:    s.deps.Store.Ready(),
		Entries:  convertAll(entries, r),
	})
}

func (s *Server) handleMarket(c *gin.Context) {
	sym := model.NormalizeSymbol(c.Param("symbol"))
	if !s.deps.Store.Has(sym) {
		c.JSON(http.StatusNotFound, errorResponse{Error: "unknown symbol " + string(sym)})
		return
	}

	e, ok := s.deps.Store.Get(sym)
	if !ok {
		c.JSON(http.StatusNotFound, errorResponse{Error: "no data yet for " + string(sym)})
		return
	}

	currency, r := s.conversion(c)
	c.JSON(http.StatusOK, marketResponse{
		Currency: currency,
		Rate:     r,
		Entry:    market.ToFiat(e, r),
	})
}

func (s *Server) handleSummary(c *gin.Context) {
	top := s.cfg.TopN
	if q := c.Query("top"); q != "" {
		n, err := strconv.Atoi(q)
		if err != nil || n < 1 || n > maxTopN {
			c.JSON(http.StatusBadRequest, errorResponse{Error: "top must be between 1 and " + strconv.Itoa(maxTopN)})
			return
		}
		top = n
	}

	currency, r := s.conversion(c)
	entries := convertAll(s.deps.Store.SnapshotAll(), r)

	c.JSON(http.StatusOK, summaryResponse{
		Currency: currency,
		Rate:     r,
		Summary:  market.Summarize(entries, s.cfg.Supply, s.cfg.DominantSymbol, top),
	})
}

// handleHealth reports "healthy", "degraded" (feed down or stale entries) or
// "unhealthy" (no data at all, 503).
func (s *Server) handleHealth(c *gin.Context) {
	health := healthResponse{
		Status:     "healthy",
		Version:    version.Get(),
		Components: make(map[string]interface{}),
	}

	feed := s.deps.Feed.Stats()
	health.Components["feed"] = feed
	if feed.State != connection.StateOpen.String() {
		health.Status = "degraded"
	}

	stale := s.deps.Store.Stale(s.cfg.StaleAfter, time.Now())
	health.Components["store"] = map[string]interface{}{
		"ready": s.deps.Store.Ready(),
		"stale": stale,
		"stats": s.deps.Store.Stats(),
	}
	if len(stale) > 0 {
		health.Status = "degraded"
	}

	health.Components["rate"] = map[string]interface{}{
		"target": s.deps.Rate.Target(),
		"stats":  s.deps.Rate.Stats(),
	}
	if s.deps.Router != nil {
		health.Components["router"] = s.deps.Router.Stats()
	}
	if s.deps.Poller != nil {
		health.Components["poller"] = s.deps.Poller.Stats()
	}
	health.Components["ws_clients"] = s.hub.Count()

	code := http.StatusOK
	if len(s.deps.Store.SnapshotAll()) == 0 {
		health.Status = "unhealthy"
		code = http.StatusServiceUnavailable
	}
	c.JSON(code, health)
}
