package server

import (
	"context"
	"log"
	"net/http"
	"sort"
	"time"

	"github.com/gin-gonic/gin"
)

// Pinger checks a backing dependency. *sql.DB satisfies it.
type Pinger interface {
	PingContext(ctx context.Context) error
}

// PingFunc adapts a func to Pinger.
type PingFunc func(ctx context.Context) error

func (f PingFunc) PingContext(ctx context.Context) error { return f(ctx) }

const readyTimeout = 2 * time.Second

// ReadyHandler reports 200 when every check pings, 503 naming the first failing one otherwise.
// Nil checks are skipped.
func ReadyHandler(checks map[string]Pinger) gin.HandlerFunc {
	names := make([]string, 0, len(checks))
	for name, p := range checks {
		if p != nil {
			names = append(names, name)
		}
	}
	sort.Strings(names)
	return func(c *gin.Context) {
		ctx, cancel := context.WithTimeout(c.Request.Context(), readyTimeout)
		defer cancel()
		for _, name := range names {
			if err := checks[name].PingContext(ctx); err != nil {
				log.Printf("health: %s ping: %v", name, err)
				c.JSON(http.StatusServiceUnavailable, gin.H{"status": "unavailable", "failed": name})
				return
			}
		}
		c.JSON(http.StatusOK, gin.H{"status": "ready"})
	}
}
