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
	"strings"
	"time"

	"github.com/kachemak-ai/kachemak/store"
)

// lookupLimit caps the rows any single directive lookup returns to the model.
const lookupLimit = 10

// Directive maps a marker token the model can emit to a read-only store
// lookup. The registry is fixed and ordered; detection walks it in order
// and the first marker found in the reply wins.
type Directive struct {
	// Marker is the literal token scanned for in model output.
	Marker string

	// Description is the one-line capability text included in the system
	// directive so the model knows the lookup exists.
	Description string

	// Handler executes the lookup and renders a model-readable result.
	Handler func(ctx context.Context, st store.LookupStore) (string, error)
}

// DefaultDirectives returns the fixed, ordered directive registry.
func DefaultDirectives() []Directive {
	return []Directive{
		{
			Marker:      "LOOKUP_RECENT_SESSIONS",
			Description: "list the most recently active conversation sessions",
			Handler:     lookupRecentSessions,
		},
		{
			Marker:      "LOOKUP_RECENT_MESSAGES",
			Description: "list the most recent messages across all sessions",
			Handler:     lookupRecentMessages,
		},
		{
			Marker:      "LOOKUP_ACTIVE_USERS",
			Description: "list the distinct users that own at least one session",
			Handler:     lookupActiveUsers,
		},
		{
			Marker:      "LOOKUP_USAGE_COUNTS",
			Description: "report total session and message counts",
			Handler:     lookupUsageCounts,
		},
	}
}

// DetectDirective scans reply for the registry's markers in registry order
// and returns the first match. Any further markers in the same reply are
// ignored; the completion loop dispatches at most once per turn.
func DetectDirective(reply string, directives []Directive) (Directive, bool) {
	for _, d := range directives {
		if strings.Contains(reply, d.Marker) {
			return d, true
		}
	}
	return Directive{}, false
}

// Execute runs the directive's handler and always returns usable text.
//
// A handler failure is converted into a short human-readable fragment for
// the follow-up prompt instead of failing the turn.
func (d Directive) Execute(ctx context.Context, st store.LookupStore) string {
	result, err := d.Handler(ctx, st)
	if err != nil {
		slog.Error("Directive lookup failed", "marker", d.Marker, "error", err)
		return fmt.Sprintf("The %s lookup failed; no data is available.", d.Marker)
	}
	return result
}

// =============================================================================
// Lookup Handlers
// =============================================================================

func lookupRecentSessions(ctx context.Context, st store.LookupStore) (string, error) {
	sessions, err := st.RecentSessions(ctx, lookupLimit)
	if err != nil {
		return "", err
	}
	if len(sessions) == 0 {
		return "No sessions recorded yet.", nil
	}

	var b strings.Builder
	b.WriteString("Recent sessions:\n")
	for _, s := range sessions {
		fmt.Fprintf(&b, "- %s (session %s, updated %s)\n",
			s.Title, s.SessionID, formatMillis(s.UpdatedAt))
	}
	return b.String(), nil
}

func lookupRecentMessages(ctx context.Context, st store.LookupStore) (string, error) {
	messages, err := st.RecentMessages(ctx, lookupLimit)
	if err != nil {
		return "", err
	}
	if len(messages) == 0 {
		return "No messages recorded yet.", nil
	}

	var b strings.Builder
	b.WriteString("Recent messages:\n")
	for _, m := range messages {
		fmt.Fprintf(&b, "- [%s] %s: %s\n", formatMillis(m.CreatedAt), m.Role, snippet(m.Content))
	}
	return b.String(), nil
}

func lookupActiveUsers(ctx context.Context, st store.LookupStore) (string, error) {
	owners, err := st.DistinctOwners(ctx)
	if err != nil {
		return "", err
	}
	if len(owners) == 0 {
		return "No users have created sessions yet.", nil
	}
	return fmt.Sprintf("Distinct users with sessions (%d): %s",
		len(owners), strings.Join(owners, ", ")), nil
}

func lookupUsageCounts(ctx context.Context, st store.LookupStore) (string, error) {
	sessions, messages, err := st.Counts(ctx)
	if err != nil {
		return "", err
	}
	return fmt.Sprintf("Store totals: %d sessions, %d messages.", sessions, messages), nil
}

// =============================================================================
// Formatting Helpers
// =============================================================================

// snippetChars bounds message content rendered into a lookup result.
const snippetChars = 80

func snippet(content string) string {
	runes := []rune(content)
	if len(runes) <= snippetChars {
		return content
	}
	return string(runes[:snippetChars-3]) + "..."
}

func formatMillis(ms int64) string {
	return time.UnixMilli(ms).UTC().Format(time.RFC3339)
}
