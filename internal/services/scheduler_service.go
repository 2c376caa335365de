package services

import (
	"context"
	"log"
	"time"

	"aria/internal/models"

	"github.com/robfig/cron/v3"
)

// SchedulerService runs the background maintenance jobs: pending-flow expiry,
// idle session close, and the daily memory decay pass.
type SchedulerService struct {
	cron     *cron.Cron
	state    *StateStore
	memories *MemoryStore
	sender   Sender
}

// NewSchedulerService creates the scheduler.
func NewSchedulerService(state *StateStore, memories *MemoryStore, sender Sender) *SchedulerService {
	return &SchedulerService{
		cron:     cron.New(),
		state:    state,
		memories: memories,
		sender:   sender,
	}
}

// Start registers and launches the jobs.
func (s *SchedulerService) Start() error {
	if _, err := s.cron.AddFunc("@every 1m", s.expireFlows); err != nil {
		return err
	}
	if _, err := s.cron.AddFunc("@every 5m", s.closeIdleSessions); err != nil {
		return err
	}
	if _, err := s.cron.AddFunc("@daily", s.decayMemories); err != nil {
		return err
	}
	s.cron.Start()
	log.Println("✅ Scheduler started (flow expiry 1m, idle sessions 5m, memory decay daily)")
	return nil
}

// Stop halts the cron loop and waits for running jobs.
func (s *SchedulerService) Stop() {
	ctx := s.cron.Stop()
	<-ctx.Done()
	log.Println("📦 Scheduler stopped")
}

func (s *SchedulerService) expireFlows() {
	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	flows, err := s.state.ExpiredFlows(ctx)
	if err != nil {
		log.Printf("⚠️  [SCHEDULER] Flow expiry sweep failed: %v", err)
		return
	}
	for _, flow := range flows {
		if err := s.state.ClearPendingFlow(ctx, flow.UserID); err != nil {
			log.Printf("⚠️  [SCHEDULER] Failed to clear expired flow for user %s: %v", flow.UserID, err)
			continue
		}
		channelID, err := s.state.ChannelForUser(ctx, flow.UserID)
		if err != nil {
			log.Printf("⚠️  [SCHEDULER] No channel for user %s: %v", flow.UserID, err)
			continue
		}
		notice := "We didn't finish our conversation, so I've reset it. Message me whenever you're ready."
		if err := s.sender.Send(ctx, models.OutboundMessage{ChannelID: channelID, Text: notice}); err != nil {
			log.Printf("⚠️  [SCHEDULER] Failed to send expiry notice to %s: %v", channelID, err)
		}
	}
	if len(flows) > 0 {
		log.Printf("🔍 [SCHEDULER] Expired %d pending flows", len(flows))
	}
}

func (s *SchedulerService) closeIdleSessions() {
	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	closed, err := s.state.CloseIdleSessions(ctx)
	if err != nil {
		log.Printf("⚠️  [SCHEDULER] Idle session sweep failed: %v", err)
		return
	}
	if closed > 0 {
		log.Printf("🔍 [SCHEDULER] Closed %d idle sessions", closed)
	}
}

func (s *SchedulerService) decayMemories() {
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Minute)
	defer cancel()

	if _, err := s.memories.DecayPass(ctx); err != nil {
		log.Printf("⚠️  [SCHEDULER] Memory decay pass failed: %v", err)
	}
}
