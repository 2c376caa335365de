package services

import (
	"context"
	"log"
	"strings"
	"time"

	"aria/internal/models"
)

const (
	memoryQueueSize   = 256
	memoryMaxAttempts = 3
)

// TurnRecord is everything the writer persists after a turn's reply is queued.
type TurnRecord struct {
	UserID         string
	SessionID      string
	CorrelationID  string
	UserMessage    models.ConversationMessage
	ReplyMessage   models.ConversationMessage
	Salience       float64
	MemoryContent  string
	MemoryCategory string
}

type writeJob struct {
	record TurnRecord
}

// MemoryWriter persists turn records off the hot path. The reply has already
// been sent when a job runs, so failures are logged and retried, never
// surfaced to the user.
type MemoryWriter struct {
	state             *StateStore
	memories          *MemoryStore
	salienceThreshold float64

	queue chan writeJob
	done  chan struct{}
}

// NewMemoryWriter creates the writer with a bounded queue.
func NewMemoryWriter(state *StateStore, memories *MemoryStore, salienceThreshold float64) *MemoryWriter {
	return &MemoryWriter{
		state:             state,
		memories:          memories,
		salienceThreshold: salienceThreshold,
		queue:             make(chan writeJob, memoryQueueSize),
		done:              make(chan struct{}),
	}
}

// Start launches the background drain.
func (w *MemoryWriter) Start() {
	go w.drain()
	log.Println("✅ Memory writer started")
}

// Stop closes the queue and waits for the drain to finish.
func (w *MemoryWriter) Stop() {
	close(w.queue)
	<-w.done
	log.Println("📦 Memory writer stopped")
}

// Enqueue queues a turn record. A full queue drops the record with a log
// line; conversation history is best-effort, the reply already went out.
func (w *MemoryWriter) Enqueue(record TurnRecord) {
	select {
	case w.queue <- writeJob{record: record}:
	default:
		log.Printf("⚠️  [WRITER] Queue full, dropping turn record for user %s", record.UserID)
	}
}

func (w *MemoryWriter) drain() {
	defer close(w.done)
	for job := range w.queue {
		var err error
		for attempt := 1; attempt <= memoryMaxAttempts; attempt++ {
			if err = w.persist(job.record); err == nil {
				break
			}
			if m := GetMetrics(); m != nil {
				m.MemoryRetries.Inc()
			}
			if attempt < memoryMaxAttempts {
				log.Printf("🔁 [WRITER] Retrying turn record for user %s (attempt %d): %v",
					job.record.UserID, attempt+1, err)
				time.Sleep(time.Duration(attempt) * 100 * time.Millisecond)
			}
		}
		if err != nil {
			log.Printf("🚫 [WRITER] Giving up on turn record for user %s: %v", job.record.UserID, err)
		}
	}
}

func (w *MemoryWriter) persist(record TurnRecord) error {
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	if err := w.state.AppendMessage(ctx, &record.UserMessage); err != nil {
		return err
	}
	if err := w.state.AppendMessage(ctx, &record.ReplyMessage); err != nil {
		return err
	}
	if err := w.state.TouchSession(ctx, record.SessionID, 2); err != nil {
		return err
	}

	content, category := w.memoryCandidate(record)
	if content != "" {
		if _, err := w.memories.Create(ctx, record.UserID, category, content, importanceFor(record.Salience)); err != nil {
			return err
		}
		if m := GetMetrics(); m != nil {
			m.MemoryWrites.Inc()
		}
	}
	return nil
}

// memoryCandidate decides whether the turn yields a durable memory: an
// explicit "remember ..." marker always wins, then model-flagged salience.
func (w *MemoryWriter) memoryCandidate(record TurnRecord) (content, category string) {
	text := strings.TrimSpace(record.UserMessage.Content)
	lower := strings.ToLower(text)
	if idx := strings.Index(lower, "remember that "); idx >= 0 {
		return strings.TrimSpace(text[idx+len("remember that "):]), models.MemoryCategoryFact
	}
	if idx := strings.Index(lower, "remember "); idx == 0 {
		return strings.TrimSpace(text[len("remember "):]), models.MemoryCategoryFact
	}

	if record.Salience >= w.salienceThreshold && record.MemoryContent != "" {
		category := record.MemoryCategory
		if category == "" {
			category = models.MemoryCategoryContext
		}
		return record.MemoryContent, category
	}
	return "", ""
}

func importanceFor(salience float64) int {
	importance := int(salience*10 + 0.5)
	if importance < 5 {
		importance = 5
	}
	if importance > 10 {
		importance = 10
	}
	return importance
}
