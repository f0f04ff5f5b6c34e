// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.


package editor

import "github.com/AleutianAI/AleutianEdit/services/editor/validation"

// ErrorResponse is the body of every failed request.
type ErrorResponse struct {
	Error string `json:"error"`
	Code  string `json:"code"`
}

// HealthResponse is returned by the health endpoint.
type HealthResponse struct {
	Status  string `json:"status"`
	Version string `json:"version"`
}

// ReadyResponse is returned by the readiness endpoint.
type ReadyResponse struct {
	Ready    bool `json:"ready"`
	Sessions int  `json:"sessions"`
	Lanes    int  `json:"lanes"`
}

// EndSessionResponse is returned when a session is ended.
type EndSessionResponse struct {
	SessionID string `json:"sessionId"`
	Ended     bool   `json:"ended"`
}

// DiagnosticsMessage is pushed to diagnostics subscribers whenever a
// background validation publishes.
type DiagnosticsMessage struct {
	Action    string            `json:"action"`
	SessionID string            `json:"sessionId"`
	Result    validation.Result `json:"result"`
}

// SessionMessage is the first message on a diagnostics stream.
type SessionMessage struct {
	Action    string `json:"action"`
	SessionID string `json:"sessionId"`
}
