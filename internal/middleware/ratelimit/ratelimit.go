package ratelimit

import (
	"strconv"
	"sync"
	"time"

	"github.com/gofiber/fiber/v2"
	"go.uber.org/zap"
	"golang.org/x/time/rate"
)

const idleAfter = 10 * time.Minute

type client struct {
	limiter  *rate.Limiter
	lastSeen time.Time
}

// RateLimiter keeps one token bucket per caller, keyed by X-Client-ID when
// present and by IP otherwise.
type RateLimiter struct {
	mu      sync.Mutex
	clients map[string]*client
	limit   rate.Limit
	burst   int
	logger  *zap.Logger
	ticker  *time.Ticker
	done    chan struct{}
}

type Config struct {
	MaxRequestsPerMinute int
	Burst                int
	Logger               *zap.Logger
}

func New(cfg Config) *RateLimiter {
	if cfg.MaxRequestsPerMinute <= 0 {
		cfg.MaxRequestsPerMinute = 60
	}
	if cfg.Burst <= 0 {
		cfg.Burst = max(1, cfg.MaxRequestsPerMinute/6)
	}
	if cfg.Logger == nil {
		cfg.Logger = zap.NewNop()
	}

	rl := &RateLimiter{
		clients: make(map[string]*client),
		limit:   rate.Limit(float64(cfg.MaxRequestsPerMinute) / 60.0),
		burst:   cfg.Burst,
		logger:  cfg.Logger,
		ticker:  time.NewTicker(5 * time.Minute),
		done:    make(chan struct{}),
	}

	go rl.cleanup()

	return rl
}

func (rl *RateLimiter) Middleware() fiber.Handler {
	return func(c *fiber.Ctx) error {
		key := c.IP()
		if id := c.Get("X-Client-ID"); id != "" {
			key = id
		}

		lim := rl.limiterFor(key)
		r := lim.Reserve()
		if delay := r.Delay(); delay > 0 {
			r.Cancel()
			rl.logger.Warn("Rate limit exceeded",
				zap.String("key", key),
				zap.String("ip", c.IP()),
				zap.String("path", c.Path()),
			)
			c.Set(fiber.HeaderRetryAfter, strconv.Itoa(int(delay.Seconds())+1))
			return c.Status(fiber.StatusTooManyRequests).JSON(fiber.Map{
				"error": "Rate limit exceeded. Please try again later.",
			})
		}

		return c.Next()
	}
}

func (rl *RateLimiter) limiterFor(key string) *rate.Limiter {
	rl.mu.Lock()
	defer rl.mu.Unlock()

	cl, ok := rl.clients[key]
	if !ok {
		cl = &client{limiter: rate.NewLimiter(rl.limit, rl.burst)}
		rl.clients[key] = cl
	}
	cl.lastSeen = time.Now()
	return cl.limiter
}

func (rl *RateLimiter) cleanup() {
	for {
		select {
		case <-rl.done:
			return
		case now := <-rl.ticker.C:
			rl.mu.Lock()
			for key, cl := range rl.clients {
				if now.Sub(cl.lastSeen) > idleAfter {
					delete(rl.clients, key)
				}
			}
			rl.mu.Unlock()
		}
	}
}

func (rl *RateLimiter) Stop() {
	rl.ticker.Stop()
	close(rl.done)
}
