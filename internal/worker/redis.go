package worker

import (
	"context"
	"crypto/sha256"
	"encoding/json"
	"fmt"
	"log"
	"strconv"
	"sync/atomic"
	"time"

	"github.com/willsandim/SIGTAP/internal/models"
	"github.com/willsandim/SIGTAP/internal/redis"
)

const (
	answerCacheChannel = "sigtap:answers:invalidate"
	answerVersionKey   = "sigtap:answers:version"
)

type cachedAnswer struct {
	Content string          `json:"content"`
	Sources []models.Source `json:"sources,omitempty"`
}

// answerCache keys answers by query under a shared version namespace. Clearing
// history bumps the version (broadcast over pub/sub), which orphans every old
// entry at once instead of scanning keys. A nil cache disables itself.
type answerCache struct {
	client  *redis.Client
	ttl     time.Duration
	version atomic.Int64
}

func newAnswerCache(client *redis.Client, ttl time.Duration) *answerCache {
	if client == nil {
		return nil
	}
	c := &answerCache{client: client, ttl: ttl}

	ctx, cancel := context.WithTimeout(context.Background(), 3*time.Second)
	defer cancel()
	if raw, err := client.Get(ctx, answerVersionKey); err == nil {
		if v, err := strconv.ParseInt(raw, 10, 64); err == nil {
			c.version.Store(v)
		}
	} else if err != redis.ErrCacheMiss {
		log.Printf("answer cache version load failed: %v", err)
	}

	c.startListener()
	return c
}

// startListener keeps the local version in sync with other instances.
func (c *answerCache) startListener() {
	raw := c.client.Raw()
	if raw == nil {
		return
	}
	go func() {
		ctx := context.Background()
		pubsub := raw.Subscribe(ctx, answerCacheChannel)
		for msg := range pubsub.Channel() {
			v, err := strconv.ParseInt(msg.Payload, 10, 64)
			if err != nil {
				log.Printf("answer cache invalidation decode failed: %v", err)
				continue
			}
			if v > c.version.Load() {
				c.version.Store(v)
			}
		}
	}()
}

func (c *answerCache) Lookup(ctx context.Context, query string) (*cachedAnswer, bool) {
	if c == nil {
		return nil, false
	}
	raw, err := c.client.Get(ctx, c.key(query))
	if err != nil {
		if err != redis.ErrCacheMiss {
			log.Printf("answer cache read failed: %v", err)
		}
		return nil, false
	}
	var cached cachedAnswer
	if err := json.Unmarshal([]byte(raw), &cached); err != nil {
		// Corrupt entries count as misses.
		log.Printf("answer cache decode failed: %v", err)
		return nil, false
	}
	return &cached, true
}

func (c *answerCache) Store(ctx context.Context, query, content string, sources []models.Source) {
	if c == nil {
		return
	}
	data, err := json.Marshal(cachedAnswer{Content: content, Sources: sources})
	if err != nil {
		log.Printf("answer cache marshal failed: %v", err)
		return
	}
	if err := c.client.Set(ctx, c.key(query), data, c.ttl); err != nil {
		log.Printf("answer cache write failed: %v", err)
	}
}

func (c *answerCache) InvalidateAll(ctx context.Context) {
	if c == nil {
		return
	}
	v, err := c.client.Incr(ctx, answerVersionKey)
	if err != nil {
		log.Printf("answer cache invalidate failed: %v", err)
		return
	}
	c.version.Store(v)
	raw := c.client.Raw()
	if raw == nil {
		return
	}
	if err := raw.Publish(ctx, answerCacheChannel, strconv.FormatInt(v, 10)).Err(); err != nil {
		log.Printf("answer cache publish failed: %v", err)
	}
}

func (c *answerCache) key(query string) string {
	sum := sha256.Sum256([]byte(query))
	return fmt.Sprintf("sigtap:answers:v%d:%x", c.version.Load(), sum[:12])
}
