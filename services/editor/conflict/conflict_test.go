// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

package conflict

import (
	"context"
	"testing"

	"github.com/AleutianAI/AleutianEdit/services/editor/classify"
	"github.com/AleutianAI/AleutianEdit/services/editor/document"
	"github.com/AleutianAI/AleutianEdit/services/editor/lang/statemachine"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestCheck(t *testing.T) {
	doc, err := document.New(context.Background(), "a.sm", "input signal x", 0, statemachine.NewParser(), nil)
	require.NoError(t, err)
	current := doc.StateID()

	tests := []struct {
		name     string
		required string
		doc      StateReader
		want     Decision
	}{
		{"no required state", "", doc, Accept},
		{"no required state untracked", "", nil, Accept},
		{"matching state", current, doc, Accept},
		{"stale state", "deadbeef", doc, Decision{Conflict: ReasonInvalidStateID}},
		{"untracked document", "totalerquatsch", nil, Decision{Conflict: ReasonInvalidStateID}},
		{"typed nil document", current, (*document.Document)(nil), Decision{Conflict: ReasonInvalidStateID}},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			req := classify.ServiceRequest{Kind: classify.KindUpdate, RequiredStateID: tt.required}
			got := Check(req, tt.doc)
			assert.Equal(t, tt.want, got)
			assert.Equal(t, tt.want == Accept, got.Accepted())
		})
	}
}

func TestCheck_AfterExternalModification(t *testing.T) {
	doc, err := document.New(context.Background(), "a.sm", "input signal x", 1, statemachine.NewParser(), nil)
	require.NoError(t, err)
	req := classify.ServiceRequest{Kind: classify.KindUpdate, RequiredStateID: doc.StateID()}

	require.True(t, Check(req, doc).Accepted())
	doc.Touch(1234)
	assert.Equal(t, ReasonInvalidStateID, Check(req, doc).Conflict)
}
