package services

import (
	"context"
	"log"
	"sync"
	"time"

	"github.com/redis/go-redis/v9"
)

// DedupService collapses at-least-once transport delivery to at-most-once
// processing. Redis (when configured) gives a shared recent-id set with TTL;
// a process-local bounded window always mirrors it so a Redis outage fails
// open instead of dropping or double-processing messages.
type DedupService struct {
	redis  *redis.Client // nil when not configured
	window time.Duration

	mu       sync.Mutex
	channels map[string]*recentWindow
	capacity int
}

// recentWindow is a fixed-capacity ring of recently seen update ids.
type recentWindow struct {
	seen  map[string]time.Time
	order []string
	next  int
}

// NewDedupService creates a deduplicator. rdb may be nil.
func NewDedupService(rdb *redis.Client, capacity int, window time.Duration) *DedupService {
	if capacity < 1 {
		capacity = 500
	}
	return &DedupService{
		redis:    rdb,
		window:   window,
		channels: make(map[string]*recentWindow),
		capacity: capacity,
	}
}

// Check records the update id and reports whether processing should proceed.
// Returns false for duplicates. Store failures fail open: downstream actions
// are idempotent regardless.
func (s *DedupService) Check(ctx context.Context, channelID, updateID string) bool {
	localFresh := s.checkLocal(channelID, updateID)

	if s.redis != nil {
		key := "dedup:" + channelID + ":" + updateID
		fresh, err := s.redis.SetNX(ctx, key, 1, s.window).Result()
		if err != nil {
			log.Printf("⚠️  [DEDUP] Redis unavailable, using local window only: %v", err)
			return localFresh
		}
		// Either store having seen the id is enough to call it a duplicate.
		return fresh && localFresh
	}

	return localFresh
}

func (s *DedupService) checkLocal(channelID, updateID string) bool {
	s.mu.Lock()
	defer s.mu.Unlock()

	w, ok := s.channels[channelID]
	if !ok {
		w = &recentWindow{
			seen:  make(map[string]time.Time, s.capacity),
			order: make([]string, s.capacity),
		}
		s.channels[channelID] = w
	}

	now := time.Now()
	if seenAt, dup := w.seen[updateID]; dup && now.Sub(seenAt) < s.window {
		return false
	}

	// Ring slot reuse evicts the oldest id once the window is full.
	if old := w.order[w.next]; old != "" {
		delete(w.seen, old)
	}
	w.order[w.next] = updateID
	w.seen[updateID] = now
	w.next = (w.next + 1) % len(w.order)
	return true
}
