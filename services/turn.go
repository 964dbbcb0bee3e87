// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

package services

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"strings"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"

	"github.com/kachemak-ai/kachemak/auth"
	"github.com/kachemak-ai/kachemak/datatypes"
	"github.com/kachemak-ai/kachemak/llm"
	"github.com/kachemak-ai/kachemak/observability"
	"github.com/kachemak-ai/kachemak/store"
)

var turnTracer = otel.Tracer("kachemak.services.turn")

// historyLimit bounds the recent messages pulled in as conversational
// grounding for one turn.
const historyLimit = 10

// PersistPolicy controls what a storage failure after a successful
// completion does to the turn.
type PersistPolicy string

const (
	// PersistBestEffort logs the failure and still returns the answer.
	// Re-running a costly completion over a storage hiccup is worse than a
	// dropped turn record.
	PersistBestEffort PersistPolicy = "best_effort"

	// PersistStrict fails the turn when the pair cannot be appended.
	PersistStrict PersistPolicy = "strict"
)

// PersistPolicyFromEnv reads CHAT_PERSIST_POLICY, defaulting to best effort.
func PersistPolicyFromEnv() PersistPolicy {
	switch os.Getenv("CHAT_PERSIST_POLICY") {
	case string(PersistStrict):
		return PersistStrict
	case string(PersistBestEffort), "":
		return PersistBestEffort
	default:
		slog.Warn("Unknown CHAT_PERSIST_POLICY value, defaulting to best_effort")
		return PersistBestEffort
	}
}

// loopState is the completion loop's state. One invocation per chat turn;
// transitions are PROMPT -> INSPECT -> (DISPATCH ->) DONE with at most one
// dispatch.
type loopState int

const (
	statePrompt loopState = iota
	stateInspect
	stateDispatch
	stateDone
)

// =============================================================================
// Turn Service
// =============================================================================

// TurnService sequences a single chat turn: session continuity, context
// assembly, the completion loop, and persistence.
//
// The service is stateless; all per-turn state lives on the stack, so one
// instance serves concurrent requests.
type TurnService struct {
	sessions   store.SessionStore
	llmClient  llm.CompletionClient
	assembler  *ContextAssembler
	directives []Directive
	policy     PersistPolicy
}

// NewTurnService wires a turn service with the default directive registry
// and the persistence policy from the environment.
func NewTurnService(sessions store.SessionStore, llmClient llm.CompletionClient, assembler *ContextAssembler) *TurnService {
	return &TurnService{
		sessions:   sessions,
		llmClient:  llmClient,
		assembler:  assembler,
		directives: DefaultDirectives(),
		policy:     PersistPolicyFromEnv(),
	}
}

// WithPersistPolicy overrides the persistence policy. Used by tests and by
// deployments that need strict turn durability.
func (s *TurnService) WithPersistPolicy(policy PersistPolicy) *TurnService {
	s.policy = policy
	return s
}

// Process handles one chat turn end to end.
//
// The flow is strictly sequential: validate, load-or-create the caller's
// session, read recent history, assemble the grounding context, run the
// completion loop, persist, respond. Validation failures short-circuit
// before any side effect.
//
// Persistence captures the *first-pass* assistant text while the caller
// receives the possibly dispatch-enhanced final text. The stored transcript
// records what the model said before it saw any lookup data; whether that
// asymmetry is the desired audit behavior is still an open product
// question, so it is preserved rather than silently changed.
func (s *TurnService) Process(ctx context.Context, req *datatypes.ChatTurnRequest, caller *auth.AuthInfo) (*datatypes.ChatTurnResponse, error) {
	ctx, span := turnTracer.Start(ctx, "TurnService.Process")
	defer span.End()

	// Step 1: validate before any downstream work.
	if err := req.Validate(); err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, "validation failed")
		return nil, &ValidationError{Reason: validationReason(req)}
	}

	// Step 2: session continuity with ownership assertion.
	session, err := s.sessions.LoadOrCreate(ctx, req.SessionID, caller.UserID)
	if err != nil {
		if IsSessionNotFound(err) {
			span.SetStatus(codes.Error, "session not found")
			return nil, err
		}
		span.RecordError(err)
		span.SetStatus(codes.Error, "session load failed")
		return nil, &UpstreamError{Stage: "session store", Err: err}
	}
	span.SetAttributes(attribute.String("session.id", session.SessionID))

	// Step 3: recent history, oldest first.
	history, err := s.sessions.RecentHistory(ctx, session.SessionID, historyLimit)
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, "history load failed")
		return nil, &UpstreamError{Stage: "session store", Err: err}
	}

	// Step 4: grounding context from retrieval.
	groundingContext, docs, err := s.assembler.Assemble(ctx, req.Message)
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, "context assembly failed")
		return nil, err
	}
	span.SetAttributes(attribute.Int("retrieval.documents", len(docs)))

	// Step 5: the completion loop.
	firstReply, finalReply, err := s.runCompletionLoop(ctx, groundingContext, history, req.Message)
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, "completion loop failed")
		return nil, err
	}

	// Step 6: persist the turn. The stored assistant text is the first-pass
	// reply, not the post-dispatch one (see method comment).
	if err := s.sessions.AppendTurn(ctx, session.SessionID, req.Message, firstReply); err != nil {
		if s.policy == PersistStrict {
			span.RecordError(err)
			span.SetStatus(codes.Error, "persistence failed")
			return nil, &UpstreamError{Stage: "session store", Err: err}
		}
		slog.Error("Failed to persist chat turn, returning completion anyway",
			"sessionId", session.SessionID, "error", err)
	}

	return &datatypes.ChatTurnResponse{
		Response:  finalReply,
		SessionID: session.SessionID,
	}, nil
}

// =============================================================================
// Completion Loop
// =============================================================================

// runCompletionLoop drives the PROMPT -> INSPECT -> DISPATCH -> DONE state
// machine and returns both the first-pass reply and the final reply.
//
// At most one dispatch happens per turn: the loop never re-enters INSPECT
// after DISPATCH, which bounds the worst case at two completion calls plus
// one store round trip.
func (s *TurnService) runCompletionLoop(ctx context.Context, groundingContext string, history []datatypes.Message, userText string) (string, string, error) {
	ctx, span := turnTracer.Start(ctx, "TurnService.runCompletionLoop")
	defer span.End()

	prompt := buildPrompt(groundingContext, s.directives, history, userText)

	var firstReply, finalReply string
	var matched Directive

	state := statePrompt
	for state != stateDone {
		switch state {
		case statePrompt:
			reply, err := s.complete(ctx, "first_pass", prompt)
			if err != nil {
				return "", "", &UpstreamError{Stage: "completion service", Err: err}
			}
			firstReply = reply
			finalReply = reply
			state = stateInspect

		case stateInspect:
			directive, found := DetectDirective(firstReply, s.directives)
			if !found {
				state = stateDone
				break
			}
			matched = directive
			state = stateDispatch

		case stateDispatch:
			span.SetAttributes(attribute.String("directive.marker", matched.Marker))
			slog.Info("Model requested a data lookup", "marker", matched.Marker)

			result := matched.Execute(ctx, s.sessions)
			observability.RecordDispatch(matched.Marker)

			followUp := append(prompt,
				datatypes.Message{Role: datatypes.RoleAssistant, Content: firstReply},
				datatypes.Message{Role: datatypes.RoleUser, Content: buildLookupFollowUp(matched.Marker, result)},
			)

			reply, err := s.complete(ctx, "post_dispatch", followUp)
			if err != nil {
				return "", "", &UpstreamError{Stage: "completion service", Err: err}
			}
			finalReply = reply
			state = stateDone
		}
	}

	return firstReply, finalReply, nil
}

// complete invokes the completion service once and records its latency.
func (s *TurnService) complete(ctx context.Context, phase string, messages []datatypes.Message) (string, error) {
	start := time.Now()
	reply, err := s.llmClient.Chat(ctx, messages, llm.GenerationParams{})
	observability.RecordCompletionLatency(phase, time.Since(start).Seconds())
	return reply, err
}

// =============================================================================
// Prompt Building
// =============================================================================

// buildPrompt assembles the ordered message list for the first completion
// call: system directive, then history oldest first, then the current turn.
func buildPrompt(groundingContext string, directives []Directive, history []datatypes.Message, userText string) []datatypes.Message {
	messages := make([]datatypes.Message, 0, len(history)+2)
	messages = append(messages, datatypes.Message{
		Role:    datatypes.RoleSystem,
		Content: buildSystemDirective(groundingContext, directives),
	})
	messages = append(messages, history...)
	messages = append(messages, datatypes.Message{
		Role:    datatypes.RoleUser,
		Content: userText,
	})
	return messages
}

// buildSystemDirective renders the system message: assistant persona, the
// directive capability list, and the grounding context (or the instruction
// to admit when it is empty).
func buildSystemDirective(groundingContext string, directives []Directive) string {
	var b strings.Builder
	b.WriteString("You are a helpful assistant. Answer using the reference documents below and the conversation so far.\n\n")

	b.WriteString("If you need stored usage data to answer, reply with exactly one of these markers and nothing else:\n")
	for _, d := range directives {
		fmt.Fprintf(&b, "- %s: %s\n", d.Marker, d.Description)
	}
	b.WriteString("You may request at most one lookup per turn.\n\n")

	if groundingContext == "" {
		b.WriteString("No reference documents matched this question. Say that you could not find relevant information; do not invent an answer.")
	} else {
		b.WriteString("Reference documents:\n\n")
		b.WriteString(groundingContext)
	}
	return b.String()
}

// buildLookupFollowUp renders the user-role message carrying the lookup
// result back to the model after a dispatch.
func buildLookupFollowUp(marker, result string) string {
	return fmt.Sprintf("Result of %s:\n%s\nAnswer the user's question directly using this data. Do not ask for further input.", marker, result)
}

// validationReason maps a failed validation to the caller-safe reason text.
func validationReason(req *datatypes.ChatTurnRequest) string {
	switch {
	case strings.TrimSpace(req.Message) == "":
		return "message is required"
	case len(req.Message) > datatypes.MaxChatMessageChars:
		return fmt.Sprintf("message exceeds %d characters", datatypes.MaxChatMessageChars)
	case req.SessionID != "":
		// Either a malformed session id or blocklisted content; check the
		// message first so the more actionable reason wins.
		if containsBlockedContent(req.Message) {
			return "message contains disallowed content"
		}
		return "sessionId must be a UUID"
	default:
		return "message contains disallowed content"
	}
}

// containsBlockedContent mirrors the datatypes blocklist for error wording.
func containsBlockedContent(message string) bool {
	probe := datatypes.ChatTurnRequest{Message: message}
	return probe.Validate() != nil && strings.TrimSpace(message) != "" &&
		len(message) <= datatypes.MaxChatMessageChars
}
