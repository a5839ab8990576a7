package channel

import (
	"context"
	"errors"
	"sync"
	"time"

	"go.uber.org/zap"
)

const (
	defaultDebounceWindow = 200 * time.Second
	defaultEntryMaxIdle   = time.Hour
)

var errMissingNoteWriter = errors.New("channel: note writer is required")

// NoteWriter performs the durable write of coalesced note content.
type NoteWriter interface {
	WriteNoteContent(ctx context.Context, noteID, userID, contentText, contentHTML string) error
}

// Content is the most recent, not-yet-durable state of a note.
type Content struct {
	ContentText string
	ContentHTML string
}

// CoalescerConfig configures the write coalescer.
type CoalescerConfig struct {
	Writer NoteWriter
	// Window is the quiet period after the last edit before the durable
	// write fires. Deployment-tunable; defaults to 200s.
	Window time.Duration
	// EntryMaxIdle evicts entries untouched for this long, as a safety net
	// against leaked debounce state. Defaults to one hour.
	EntryMaxIdle time.Duration
	Logger       *zap.Logger
	Clock        func() time.Time
}

type debounceEntry struct {
	userID      string
	content     Content
	timer       *time.Timer
	seq         uint64
	lastTouched time.Time
}

// Coalescer batches rapid content edits into one delayed durable write per
// note. It is the single source of truth for content that has been
// acknowledged over a channel but not yet flushed to storage.
type Coalescer struct {
	mu      sync.Mutex
	entries map[string]*debounceEntry

	writer  NoteWriter
	window  time.Duration
	maxIdle time.Duration
	logger  *zap.Logger
	clock   func() time.Time
	done    chan struct{}
	closed  sync.Once
}

// NewCoalescer constructs a coalescer and starts its eviction sweeper.
func NewCoalescer(cfg CoalescerConfig) (*Coalescer, error) {
	if cfg.Writer == nil {
		return nil, errMissingNoteWriter
	}
	window := cfg.Window
	if window <= 0 {
		window = defaultDebounceWindow
	}
	maxIdle := cfg.EntryMaxIdle
	if maxIdle <= 0 {
		maxIdle = defaultEntryMaxIdle
	}
	logger := cfg.Logger
	if logger == nil {
		logger = zap.NewNop()
	}
	clock := cfg.Clock
	if clock == nil {
		clock = time.Now
	}

	coalescer := &Coalescer{
		entries: make(map[string]*debounceEntry),
		writer:  cfg.Writer,
		window:  window,
		maxIdle: maxIdle,
		logger:  logger,
		clock:   clock,
		done:    make(chan struct{}),
	}
	go coalescer.sweepLoop()
	return coalescer, nil
}

// RecordEdit overwrites the pending state for the note and restarts its
// debounce timer. A steady stream of edits keeps deferring the durable write
// until input goes quiet for the full window.
func (c *Coalescer) RecordEdit(noteID, userID, contentText, contentHTML string) {
	if noteID == "" {
		return
	}

	c.mu.Lock()
	defer c.mu.Unlock()

	entry, ok := c.entries[noteID]
	if !ok {
		entry = &debounceEntry{userID: userID}
		entry.timer = time.AfterFunc(c.window, func() {
			c.flush(noteID)
		})
		c.entries[noteID] = entry
	} else {
		entry.timer.Reset(c.window)
	}
	entry.userID = userID
	entry.content = Content{ContentText: contentText, ContentHTML: contentHTML}
	entry.seq++
	entry.lastTouched = c.clock()
}

// Peek returns the most recent recorded content for the note, if any edit is
// still awaiting its flush. Read paths overlay this on top of stored content
// so readers never see state older than what a writer already acknowledged.
func (c *Coalescer) Peek(noteID string) (Content, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()

	entry, ok := c.entries[noteID]
	if !ok {
		return Content{}, false
	}
	return entry.content, true
}

// Close stops the sweeper and all pending timers. Pending edits are not
// flushed; shutdown flushing is the caller's decision via FlushAll.
func (c *Coalescer) Close() {
	c.closed.Do(func() {
		close(c.done)
	})
	c.mu.Lock()
	for _, entry := range c.entries {
		entry.timer.Stop()
	}
	c.mu.Unlock()
}

// FlushAll synchronously writes every pending entry. Used on shutdown so the
// debounce window does not turn into data loss when the process exits.
func (c *Coalescer) FlushAll(ctx context.Context) {
	c.mu.Lock()
	noteIDs := make([]string, 0, len(c.entries))
	for noteID, entry := range c.entries {
		entry.timer.Stop()
		noteIDs = append(noteIDs, noteID)
	}
	c.mu.Unlock()

	for _, noteID := range noteIDs {
		c.flushContext(ctx, noteID)
	}
}

func (c *Coalescer) flush(noteID string) {
	c.flushContext(context.Background(), noteID)
}

// flushContext re-reads the entry state at fire time rather than using a
// snapshot captured when the timer was armed, so a reset that raced the
// firing still writes the latest content.
func (c *Coalescer) flushContext(ctx context.Context, noteID string) {
	c.mu.Lock()
	entry, ok := c.entries[noteID]
	if !ok {
		c.mu.Unlock()
		return
	}
	userID := entry.userID
	content := entry.content
	seq := entry.seq
	c.mu.Unlock()

	err := c.writer.WriteNoteContent(ctx, noteID, userID, content.ContentText, content.ContentHTML)
	if err != nil {
		// Not retried. The entry stays in place so the next edit gets a
		// chance to flush the same content again.
		c.logger.Error("durable note write failed",
			zap.String("note_id", noteID),
			zap.String("user_id", userID),
			zap.Error(err))
		return
	}

	c.mu.Lock()
	if current, ok := c.entries[noteID]; ok && current.seq == seq {
		current.timer.Stop()
		delete(c.entries, noteID)
	}
	c.mu.Unlock()
}

func (c *Coalescer) sweepLoop() {
	interval := c.maxIdle
	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		select {
		case <-c.done:
			return
		case <-ticker.C:
			c.sweep()
		}
	}
}

func (c *Coalescer) sweep() {
	cutoff := c.clock().Add(-c.maxIdle)
	c.mu.Lock()
	for noteID, entry := range c.entries {
		if entry.lastTouched.Before(cutoff) {
			entry.timer.Stop()
			delete(c.entries, noteID)
		}
	}
	c.mu.Unlock()
}
