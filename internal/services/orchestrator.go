package services

import (
	"context"
	"encoding/json"
	"errors"
	"log"
	"time"

	"aria/internal/llm"
	"aria/internal/logging"
	"aria/internal/models"
	"aria/internal/resilience"

	"github.com/google/uuid"
)

// Narrow interfaces so tests can stand in for the heavy collaborators.

// Deduper filters at-least-once redeliveries.
type Deduper interface {
	Check(ctx context.Context, channelID, updateID string) bool
}

// ModelCaller is the generative backend for one turn.
type ModelCaller interface {
	Complete(ctx context.Context, req llm.CompletionRequest) (*llm.CompletionResult, error)
}

// Sender delivers the outbound reply.
type Sender interface {
	Send(ctx context.Context, msg models.OutboundMessage) error
}

// Orchestrator composes one inbound update into exactly one grounded reply:
// dedup, per-user serialization, flow routing, context assembly, the
// resilience-wrapped model call, tool dispatch, async persistence. A turn
// never ends in silence; every failure path produces a plain-language reply.
type Orchestrator struct {
	dedup    Deduper
	state    *StateStore
	profiles *ProfileStore
	router   *FlowRouter
	builder  *ContextBuilder
	model    ModelCaller
	wrapper  *resilience.Wrapper
	limiter  *resilience.UserRateLimiter
	fallback *llm.KeywordClassifier
	dispatch *Dispatcher
	writer   *MemoryWriter
	sender   Sender

	turnDeadline time.Duration
}

// NewOrchestrator wires the turn pipeline.
func NewOrchestrator(dedup Deduper, state *StateStore, profiles *ProfileStore,
	router *FlowRouter, builder *ContextBuilder, model ModelCaller,
	wrapper *resilience.Wrapper, limiter *resilience.UserRateLimiter,
	dispatch *Dispatcher, writer *MemoryWriter, sender Sender,
	turnDeadline time.Duration) *Orchestrator {
	return &Orchestrator{
		dedup:        dedup,
		state:        state,
		profiles:     profiles,
		router:       router,
		builder:      builder,
		model:        model,
		wrapper:      wrapper,
		limiter:      limiter,
		fallback:     llm.NewKeywordClassifier(),
		dispatch:     dispatch,
		writer:       writer,
		sender:       sender,
		turnDeadline: turnDeadline,
	}
}

// HandleUpdate processes one inbound update end to end. Errors are internal;
// by the time this returns, the user has either been answered or the update
// was a duplicate.
func (o *Orchestrator) HandleUpdate(ctx context.Context, update models.InboundUpdate) {
	start := time.Now()
	correlationID := uuid.NewString()
	ctx = logging.WithCorrelationID(ctx, correlationID)

	if !o.dedup.Check(ctx, update.ChannelID, update.UpdateID) {
		if m := GetMetrics(); m != nil {
			m.DuplicateUpdates.Inc()
		}
		log.Printf("🔍 [TURN] Duplicate update %s on channel %s, skipping", update.UpdateID, update.ChannelID)
		return
	}

	user, err := o.state.GetOrCreateUser(ctx, update.ChannelID)
	if err != nil {
		log.Printf("🚫 [TURN] Cannot resolve user for channel %s: %v", update.ChannelID, err)
		o.send(ctx, update.ChannelID, "Something went wrong on my side. Please try again in a moment.", nil)
		return
	}

	logger := logging.WithTurn(correlationID, user.ID)
	logger.Info("turn started", "update_id", update.UpdateID)

	// Arrival order per user is preserved by the lock; other users proceed
	// in parallel.
	err = o.state.WithUserLock(user.ID, func() error {
		turnCtx, cancel := context.WithTimeout(ctx, o.turnDeadline)
		defer cancel()
		o.runTurn(turnCtx, user, update, correlationID)
		return nil
	})
	if err != nil {
		logger.Error("turn failed", "error", err)
	}

	if m := GetMetrics(); m != nil {
		m.TurnsTotal.Inc()
		m.TurnLatency.Observe(time.Since(start).Seconds())
	}
	logger.Info("turn finished", "duration_ms", time.Since(start).Milliseconds())
}

func (o *Orchestrator) runTurn(ctx context.Context, user *models.UserIdentity, update models.InboundUpdate, correlationID string) {
	session, err := o.state.GetOrCreateSession(ctx, user.ID)
	if err != nil {
		log.Printf("🚫 [TURN] Session unavailable for user %s: %v", user.ID, err)
		o.send(ctx, update.ChannelID, "Something went wrong on my side. Please try again in a moment.", nil)
		return
	}

	turn := TurnRef{UserID: user.ID, SessionID: session.ID, CorrelationID: correlationID}

	profile, err := o.profiles.Get(ctx, user.ID)
	if err != nil {
		log.Printf("⚠️  [TURN] Profile read failed for user %s: %v", user.ID, err)
	}

	flow, err := o.state.GetPendingFlow(ctx, user.ID)
	if err != nil {
		log.Printf("⚠️  [TURN] Flow read failed for user %s: %v", user.ID, err)
		flow = &models.PendingFlow{UserID: user.ID, Kind: models.FlowNone}
	}

	route := o.router.Route(time.Now().UTC(), flow, update.Text, profile != nil)

	if route.NextFlow != nil {
		if err := o.saveFlow(ctx, route.NextFlow); err != nil {
			log.Printf("🚫 [TURN] Flow save failed for user %s: %v", user.ID, err)
		}
	}

	if failures := o.dispatch.ApplyEvents(ctx, turn, route.Events); len(failures) > 0 {
		route.Reply += "\n\n(Heads up: part of that didn't save. You may want to retry.)"
	}

	var (
		reply          = route.Reply
		controls       = route.Controls
		intent         string
		entities       map[string]string
		salience       float64
		memoryContent  string
		memoryCategory string
		degradedReason string
	)

	switch {
	case route.BypassModel && route.Intent != "":
		intent = route.Intent
		result := o.dispatch.Dispatch(ctx, turn, route.Intent, route.Params)
		if reply != "" {
			reply += "\n\n" + result.Summary
		} else {
			reply = result.Summary
		}
	case route.BypassModel:
		intent = "flow"
	default:
		reply, intent, entities, salience, memoryContent, memoryCategory, degradedReason =
			o.classifyAndDispatch(ctx, turn, user, update.Text)
	}

	if reply == "" {
		// Last line of defense: a turn never ends in silence.
		reply = "I'm here, but I couldn't work out a response to that. Could you rephrase?"
		degradedReason = "empty_reply"
	}
	if degradedReason != "" {
		if m := GetMetrics(); m != nil {
			m.DegradedTurns.WithLabelValues(degradedReason).Inc()
		}
	}

	o.send(ctx, update.ChannelID, reply, controls)

	entitiesJSON := encodeEntities(entities)
	o.writer.Enqueue(TurnRecord{
		UserID:        user.ID,
		SessionID:     session.ID,
		CorrelationID: correlationID,
		UserMessage: models.ConversationMessage{
			SessionID: session.ID,
			Role:      models.RoleUser,
			Content:   update.Text,
			Intent:    intent,
			Entities:  entitiesJSON,
		},
		ReplyMessage: models.ConversationMessage{
			SessionID: session.ID,
			Role:      models.RoleAssistant,
			Content:   reply,
		},
		Salience:       salience,
		MemoryContent:  memoryContent,
		MemoryCategory: memoryCategory,
	})
}

// classifyAndDispatch runs the model path: bundle, wrapped completion, tool
// dispatch. Every failure degrades to the keyword classifier and then to a
// plain-language notice.
func (o *Orchestrator) classifyAndDispatch(ctx context.Context, turn TurnRef, user *models.UserIdentity, text string) (
	reply, intent string, entities map[string]string, salience float64, memoryContent, memoryCategory, degradedReason string) {

	if err := o.limiter.Allow(user.ID); err != nil {
		if m := GetMetrics(); m != nil {
			m.RateLimited.Inc()
		}
		return o.keywordTurn(ctx, turn, text, "rate_limited",
			"You're messaging faster than I can think right now.")
	}

	bundle, err := o.builder.Build(ctx, user.ID)
	if err != nil {
		log.Printf("⚠️  [TURN] Bundle build failed for user %s: %v", user.ID, err)
		bundle = &models.ContextBundle{UserID: user.ID, Mode: models.ModeDefault}
	}

	req := llm.CompletionRequest{
		System:  llm.BuildSystemPrompt(bundle.Mode),
		Context: bundle.Serialize(),
		Message: text,
	}

	var result *llm.CompletionResult
	attempts, err := o.wrapper.Do(ctx, func(callCtx context.Context) error {
		res, callErr := o.model.Complete(callCtx, req)
		if callErr != nil {
			return callErr
		}
		// Discard results that arrive after the turn deadline; state must
		// not mutate on behalf of an abandoned turn.
		if ctx.Err() != nil {
			return ctx.Err()
		}
		result = res
		return nil
	})
	if attempts > 1 {
		log.Printf("🔁 [TURN] Model call for user %s took %d attempts", user.ID, attempts)
		turn.Retries = attempts - 1
	}

	if err != nil {
		reason := "model_error"
		switch {
		case errors.Is(err, resilience.ErrCircuitOpen):
			reason = "breaker_open"
		case ctx.Err() != nil:
			reason = "deadline"
		}
		log.Printf("⚠️  [TURN] Model call failed for user %s (%s): %v", user.ID, reason, err)
		return o.keywordTurn(ctx, turn, text, reason,
			"I'm having trouble reaching my reasoning service.")
	}

	if result.Classification == nil || result.Classification.Intent == "" ||
		result.Classification.Intent == llm.IntentChat {
		intent = llm.IntentChat
		reply = result.Text
		if result.Classification != nil {
			salience = result.Classification.Salience
			memoryContent = result.Classification.Memory
		}
		return reply, intent, nil, salience, memoryContent, memoryCategory, ""
	}

	cls := result.Classification
	dispatchResult := o.dispatch.Dispatch(ctx, turn, cls.Intent, cls.Entities)

	reply = dispatchResult.Summary
	if result.Text != "" && dispatchResult.Success {
		reply = result.Text
		if dispatchResult.Summary != "" && dispatchResult.Summary != result.Text {
			reply = result.Text + "\n\n" + dispatchResult.Summary
		}
	}
	return reply, cls.Intent, cls.Entities, cls.Salience, cls.Memory, cls.Entities["category"], ""
}

// keywordTurn is the degraded path: classify with keywords, still execute the
// tool when one matches, and be honest about running in reduced mode.
func (o *Orchestrator) keywordTurn(ctx context.Context, turn TurnRef, text, reason, notice string) (
	reply, intent string, entities map[string]string, salience float64, memoryContent, memoryCategory, degradedReason string) {

	cls := o.fallback.Classify(text)
	if cls == nil || cls.Intent == "" || cls.Intent == llm.IntentChat {
		return notice + " Give me a moment and try again, or use /help for commands.",
			llm.IntentChat, nil, 0, "", "", reason
	}

	result := o.dispatch.Dispatch(ctx, turn, cls.Intent, cls.Entities)
	return result.Summary, cls.Intent, cls.Entities, 0, "", "", reason
}

func (o *Orchestrator) saveFlow(ctx context.Context, flow *models.PendingFlow) error {
	if flow.Kind == models.FlowNone {
		return o.state.ClearPendingFlow(ctx, flow.UserID)
	}
	return o.state.SavePendingFlow(ctx, flow)
}

func (o *Orchestrator) send(ctx context.Context, channelID, text string, controls []string) {
	// Delivery gets its own grace window so a blown turn deadline cannot
	// swallow the reply.
	sendCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), 10*time.Second)
	defer cancel()
	msg := models.OutboundMessage{ChannelID: channelID, Text: text, Controls: controls}
	if err := o.sender.Send(sendCtx, msg); err != nil {
		log.Printf("🚫 [TURN] Failed to deliver reply to channel %s: %v", channelID, err)
	}
}

func encodeEntities(entities map[string]string) string {
	if len(entities) == 0 {
		return ""
	}
	encoded, err := json.Marshal(entities)
	if err != nil {
		return ""
	}
	return string(encoded)
}
