package server

import (
	"sync"

	"github.com/gin-gonic/gin"
	lru "github.com/hashicorp/golang-lru/v2"
	"golang.org/x/time/rate"

	"github.com/shamank/ivxp-sdk-go/pkg/ivxperr"
	"github.com/shamank/ivxp-sdk-go/pkg/protocol"
)

// maxVisitors bounds the number of tracked client IPs. The least recently
// seen visitor is evicted first.
const maxVisitors = 4096

// ipLimiter keeps one token bucket per client IP.
type ipLimiter struct {
	mu       sync.Mutex
	rps      rate.Limit
	burst    int
	visitors *lru.Cache[string, *rate.Limiter]
}

func newIPLimiter(rps float64, burst int) *ipLimiter {
	if burst <= 0 {
		burst = int(rps)
		if burst < 1 {
			burst = 1
		}
	}
	visitors, _ := lru.New[string, *rate.Limiter](maxVisitors)
	return &ipLimiter{rps: rate.Limit(rps), burst: burst, visitors: visitors}
}

func (l *ipLimiter) get(ip string) *rate.Limiter {
	l.mu.Lock()
	defer l.mu.Unlock()
	if lim, ok := l.visitors.Get(ip); ok {
		return lim
	}
	lim := rate.NewLimiter(l.rps, l.burst)
	l.visitors.Add(ip, lim)
	return lim
}

func (l *ipLimiter) allow(ip string) bool {
	return l.get(ip).Allow()
}

func (l *ipLimiter) middleware() gin.HandlerFunc {
	return func(c *gin.Context) {
		if !l.allow(c.ClientIP()) {
			e := ivxperr.New(ivxperr.CodeRateLimited, "too many requests")
			c.AbortWithStatusJSON(ivxperr.HTTPStatusOf(e), protocol.ErrorEnvelope{Error: e})
			return
		}
		c.Next()
	}
}
