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
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/kachemak-ai/kachemak/datatypes"
)

func TestDetectDirective_NoMarker(t *testing.T) {
	_, found := DetectDirective("just a normal answer", DefaultDirectives())
	assert.False(t, found)
}

func TestDetectDirective_MarkerEmbeddedInProse(t *testing.T) {
	d, found := DetectDirective("Let me check: LOOKUP_USAGE_COUNTS should tell us.", DefaultDirectives())
	require.True(t, found)
	assert.Equal(t, "LOOKUP_USAGE_COUNTS", d.Marker)
}

func TestDetectDirective_RegistryOrderWins(t *testing.T) {
	// Both markers present; the registry's earlier entry wins regardless of
	// position in the reply text.
	d, found := DetectDirective("LOOKUP_USAGE_COUNTS then LOOKUP_RECENT_SESSIONS", DefaultDirectives())
	require.True(t, found)
	assert.Equal(t, "LOOKUP_RECENT_SESSIONS", d.Marker)
}

func TestExecute_HandlerErrorBecomesFragment(t *testing.T) {
	st := &fakeSessionStore{countsErr: errors.New("boom")}
	counts := DefaultDirectives()[3]
	require.Equal(t, "LOOKUP_USAGE_COUNTS", counts.Marker)

	result := counts.Execute(context.Background(), st)
	assert.Contains(t, result, "LOOKUP_USAGE_COUNTS lookup failed")
}

func TestLookupRecentSessions_Rendering(t *testing.T) {
	st := &fakeSessionStore{
		recentSessions: []datatypes.Session{
			{SessionID: "s-1", Title: "Billing question", UpdatedAt: 1700000000000},
		},
	}
	out, err := lookupRecentSessions(context.Background(), st)
	require.NoError(t, err)
	assert.Contains(t, out, "Billing question")
	assert.Contains(t, out, "s-1")
}

func TestLookupRecentSessions_Empty(t *testing.T) {
	out, err := lookupRecentSessions(context.Background(), &fakeSessionStore{})
	require.NoError(t, err)
	assert.Equal(t, "No sessions recorded yet.", out)
}

func TestLookupActiveUsers(t *testing.T) {
	out, err := lookupActiveUsers(context.Background(), &fakeSessionStore{})
	require.NoError(t, err)
	assert.Contains(t, out, "user-a")
	assert.Contains(t, out, "user-b")
	assert.Contains(t, out, "(2)")
}

func TestLookupUsageCounts(t *testing.T) {
	st := &fakeSessionStore{countsSessions: 7, countsMessages: 40}
	out, err := lookupUsageCounts(context.Background(), st)
	require.NoError(t, err)
	assert.Equal(t, "Store totals: 7 sessions, 40 messages.", out)
}

func TestSnippet_TruncatesLongContent(t *testing.T) {
	long := make([]rune, 200)
	for i := range long {
		long[i] = 'x'
	}
	out := snippet(string(long))
	assert.Len(t, []rune(out), snippetChars)
	assert.Contains(t, out, "...")
}
