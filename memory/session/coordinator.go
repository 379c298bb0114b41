// Package session owns the per-user message buffers and the debounced
// idle trigger that converts a quiet session into a stored episode.
package session

import (
	"context"
	"fmt"
	"log"
	"strings"
	"sync"
	"time"

	"github.com/becomeliminal/recall/memory/episodic"
	"github.com/becomeliminal/recall/memory/semantic"
)

// Config holds coordinator configuration.
type Config struct {
	// IdleTimeout is the quiet period after which a session is
	// flushed to episodic storage. Default: 60s.
	IdleTimeout time.Duration

	// FlushTimeout bounds the downstream LLM and store calls of one
	// flush so a stuck dependency cannot pin a goroutine forever.
	// Default: 2m.
	FlushTimeout time.Duration

	// SessionTTL evicts session entries whose buffer is empty and
	// whose last activity is older than this. Default: 30m.
	SessionTTL time.Duration

	// CleanupInterval is how often eviction runs. Default: 5m.
	CleanupInterval time.Duration

	// MinEpisodes is passed to semantic extraction after each flush.
	// Default: 3.
	MinEpisodes int

	// LookbackDays is passed to semantic extraction after each flush.
	// Default: 7.
	LookbackDays int
}

// DefaultConfig returns sensible defaults.
var DefaultConfig = &Config{
	IdleTimeout:     60 * time.Second,
	FlushTimeout:    2 * time.Minute,
	SessionTTL:      30 * time.Minute,
	CleanupInterval: 5 * time.Minute,
	MinEpisodes:     3,
	LookbackDays:    7,
}

// session is one user's buffered turns plus the armed idle trigger.
// All fields are guarded by mu. At most one timer is armed at a time;
// arming a new one always stops the previous one first, so rapid
// messages collapse into a single eventual flush.
type session struct {
	mu           sync.Mutex
	turns        []turn
	lastActivity time.Time
	timer        *time.Timer
	flushing     bool
}

type turn struct {
	role    string
	content string
}

// Coordinator tracks per-user sessions and fires the episodic pipeline
// when a user goes idle. Buffers are independent per user; there is no
// cross-user locking.
type Coordinator struct {
	episodes  *episodic.Manager
	distiller *semantic.Distiller
	config    *Config

	mu       sync.Mutex
	sessions map[string]*session
	stop     chan struct{}
	stopOnce sync.Once
}

// NewCoordinator creates a session coordinator. Call Start to run the
// eviction loop and Stop on shutdown.
func NewCoordinator(episodes *episodic.Manager, distiller *semantic.Distiller, config *Config) *Coordinator {
	if config == nil {
		config = DefaultConfig
	}
	if config.IdleTimeout <= 0 {
		config.IdleTimeout = 60 * time.Second
	}
	if config.FlushTimeout <= 0 {
		config.FlushTimeout = 2 * time.Minute
	}
	if config.SessionTTL <= 0 {
		config.SessionTTL = 30 * time.Minute
	}
	if config.CleanupInterval <= 0 {
		config.CleanupInterval = 5 * time.Minute
	}
	if config.MinEpisodes <= 0 {
		config.MinEpisodes = 3
	}
	if config.LookbackDays <= 0 {
		config.LookbackDays = 7
	}
	return &Coordinator{
		episodes:  episodes,
		distiller: distiller,
		config:    config,
		sessions:  make(map[string]*session),
		stop:      make(chan struct{}),
	}
}

// OnMessage appends a turn to the user's buffer and re-arms the idle
// trigger. Stopping the old timer and arming the new one happens under
// the session lock, in the same critical section as the append, so a
// firing flush can never interleave with the re-arm for the same user.
func (c *Coordinator) OnMessage(userID, role, content string) {
	s := c.getOrCreate(userID)

	s.mu.Lock()
	defer s.mu.Unlock()

	s.turns = append(s.turns, turn{role: role, content: content})
	s.lastActivity = time.Now()

	if s.timer != nil {
		s.timer.Stop()
	}
	s.timer = time.AfterFunc(c.config.IdleTimeout, func() {
		c.Flush(userID)
	})
}

// Flush converts the user's buffered turns into one episode and then
// triggers semantic extraction. An empty buffer is a no-op, which
// covers the race where a superseded timer still fires. Turns appended
// while the flush is running stay in the buffer and get their own
// flush later. Failures are logged, never propagated: a timer callback
// has no caller to propagate to.
func (c *Coordinator) Flush(userID string) {
	defer func() {
		if r := recover(); r != nil {
			log.Printf("[SESSION] Flush panic for user %s: %v", userID, r)
		}
	}()

	s := c.lookup(userID)
	if s == nil {
		return
	}

	s.mu.Lock()
	if s.flushing || len(s.turns) == 0 {
		s.mu.Unlock()
		return
	}
	s.flushing = true
	flushed := len(s.turns)
	text := renderTurns(s.turns[:flushed])
	s.mu.Unlock()

	log.Printf("[SESSION] User %s idle - processing %d turns", userID, flushed)

	ctx, cancel := context.WithTimeout(context.Background(), c.config.FlushTimeout)
	defer cancel()

	episode := c.episodes.CreateEpisode(ctx, text)
	log.Printf("[SESSION] Session stored as episode %s", episode.ID)

	result := c.distiller.RunExtraction(ctx, c.config.MinEpisodes, c.config.LookbackDays)
	if result.Status == semantic.StatusSuccess {
		log.Printf("[SESSION] Extracted %d semantic memories", len(result.Items))
	}

	// Clear only the flushed prefix; turns that arrived mid-flush are
	// kept and re-armed.
	s.mu.Lock()
	s.turns = s.turns[flushed:]
	s.flushing = false
	if len(s.turns) > 0 {
		if s.timer != nil {
			s.timer.Stop()
		}
		s.timer = time.AfterFunc(c.config.IdleTimeout, func() {
			c.Flush(userID)
		})
	}
	s.mu.Unlock()
}

// BufferedTurns reports how many turns are currently buffered for a
// user.
func (c *Coordinator) BufferedTurns(userID string) int {
	s := c.lookup(userID)
	if s == nil {
		return 0
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.turns)
}

// Start runs the session eviction loop until Stop is called.
func (c *Coordinator) Start() {
	go func() {
		ticker := time.NewTicker(c.config.CleanupInterval)
		defer ticker.Stop()
		for {
			select {
			case <-ticker.C:
				c.evictIdle()
			case <-c.stop:
				return
			}
		}
	}()
}

// Stop halts the eviction loop and disarms all pending idle triggers.
// Buffered turns are flushed synchronously so a shutdown does not drop
// sessions.
func (c *Coordinator) Stop() {
	c.stopOnce.Do(func() { close(c.stop) })

	c.mu.Lock()
	users := make([]string, 0, len(c.sessions))
	for userID, s := range c.sessions {
		s.mu.Lock()
		if s.timer != nil {
			s.timer.Stop()
			s.timer = nil
		}
		s.mu.Unlock()
		users = append(users, userID)
	}
	c.mu.Unlock()

	for _, userID := range users {
		c.Flush(userID)
	}
}

// evictIdle drops sessions whose buffer is empty and whose last
// activity is past the TTL. Sessions with pending turns are kept; the
// idle trigger will flush them first.
func (c *Coordinator) evictIdle() {
	cutoff := time.Now().Add(-c.config.SessionTTL)

	c.mu.Lock()
	defer c.mu.Unlock()

	for userID, s := range c.sessions {
		s.mu.Lock()
		evict := len(s.turns) == 0 && !s.flushing && s.lastActivity.Before(cutoff)
		s.mu.Unlock()
		if evict {
			delete(c.sessions, userID)
			log.Printf("[SESSION] Evicted idle session for user %s", userID)
		}
	}
}

func (c *Coordinator) getOrCreate(userID string) *session {
	c.mu.Lock()
	defer c.mu.Unlock()

	s, exists := c.sessions[userID]
	if !exists {
		s = &session{lastActivity: time.Now()}
		c.sessions[userID] = s
	}
	return s
}

func (c *Coordinator) lookup(userID string) *session {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.sessions[userID]
}

// renderTurns concatenates buffered turns into the role-prefixed text
// blob handed to the episodic manager.
func renderTurns(turns []turn) string {
	var b strings.Builder
	for _, t := range turns {
		fmt.Fprintf(&b, "%s: %s\n", t.role, t.content)
	}
	return b.String()
}
