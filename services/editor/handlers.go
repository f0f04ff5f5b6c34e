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

import (
	"context"
	"errors"
	"log/slog"
	"net/http"

	"github.com/AleutianAI/AleutianEdit/services/editor/classify"
	"github.com/AleutianAI/AleutianEdit/services/editor/document"
	"github.com/AleutianAI/AleutianEdit/services/editor/persistence"
	"github.com/AleutianAI/AleutianEdit/services/editor/scheduler"
	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	"github.com/gorilla/websocket"
)

// SessionHeader carries the client's session id on every request.
const SessionHeader = "X-Editor-Session"

// sessionQueryParam carries the session id on websocket upgrades, where
// browsers cannot set headers.
const sessionQueryParam = "session"

var upgrader = websocket.Upgrader{
	ReadBufferSize:  1024,
	WriteBufferSize: 64 * 1024,
	CheckOrigin: func(r *http.Request) bool {
		return true
	},
}

// Handlers contains the HTTP handlers for the editor service.
type Handlers struct {
	svc *Service
}

// NewHandlers creates handlers for the given service.
func NewHandlers(svc *Service) *Handlers {
	return &Handlers{svc: svc}
}

// HandleService handles GET and POST /v1/editor/service/:serviceType.
//
// Description:
//
//	Dispatches one editor service call. Parameters are read from the query
//	string and, for POST, the form body. The session is taken from the
//	X-Editor-Session header and created when absent; its id is echoed in
//	the response header.
//
// Response:
//
//	200 OK: DocumentStateResult, ContentResult, ProposalResult or ValidationResult
//	400 Bad Request: INVALID_REQUEST or INVALID_RANGE
//	404 Not Found: RESOURCE_NOT_FOUND
//	409 Conflict: ConflictResult
//	429 Too Many Requests: RATE_LIMITED
//	500 Internal Server Error: DISPATCH_FAILED
func (h *Handlers) HandleService(c *gin.Context) {
	requestID := getOrCreateRequestID(c)
	serviceType := c.Param(classify.ParamServiceType)
	logger := slog.With("request_id", requestID, "handler", "HandleService", "service", serviceType)

	sess, created, err := h.svc.Session(c.GetHeader(SessionHeader))
	if err != nil {
		c.JSON(http.StatusServiceUnavailable, ErrorResponse{Error: err.Error(), Code: "SERVICE_CLOSED"})
		return
	}
	c.Header(SessionHeader, sess.ID())
	if created {
		logger.Debug("Session created", "session_id", sess.ID())
	}

	if !h.svc.Allow(sess.ID()) {
		c.Header("Retry-After", "1")
		c.JSON(http.StatusTooManyRequests, ErrorResponse{Error: ErrRateLimited.Error(), Code: "RATE_LIMITED"})
		return
	}

	params, err := requestParams(c)
	if err != nil {
		logger.Warn("Invalid request parameters", "error", err)
		c.JSON(http.StatusBadRequest, ErrorResponse{Error: "Invalid request parameters", Code: "INVALID_REQUEST"})
		return
	}
	params[classify.ParamServiceType] = serviceType

	res, err := h.svc.Dispatch(c.Request.Context(), sess, params)
	if err != nil {
		status, code := errorStatus(err)
		if status >= http.StatusInternalServerError {
			logger.Error("Dispatch failed", "session_id", sess.ID(), "error", err)
		} else {
			logger.Info("Request rejected", "session_id", sess.ID(), "code", code, "error", err)
		}
		c.JSON(status, ErrorResponse{Error: err.Error(), Code: code})
		return
	}

	if conflictRes, ok := res.(*scheduler.ConflictResult); ok {
		logger.Info("Request conflicted", "session_id", sess.ID(), "conflict", conflictRes.Conflict)
		c.JSON(http.StatusConflict, conflictRes)
		return
	}
	c.JSON(http.StatusOK, res)
}

// HandleDiagnostics handles GET /v1/editor/diagnostics.
//
// Description:
//
//	Upgrades to a websocket that streams the session's published
//	diagnostics. The session comes from the X-Editor-Session header or the
//	"session" query parameter.
func (h *Handlers) HandleDiagnostics(c *gin.Context) {
	id := c.GetHeader(SessionHeader)
	if id == "" {
		id = c.Query(sessionQueryParam)
	}
	if id == "" {
		c.JSON(http.StatusBadRequest, ErrorResponse{Error: ErrSessionRequired.Error(), Code: "SESSION_REQUIRED"})
		return
	}
	sess, _, err := h.svc.Session(id)
	if err != nil {
		c.JSON(http.StatusServiceUnavailable, ErrorResponse{Error: err.Error(), Code: "SERVICE_CLOSED"})
		return
	}

	ws, err := upgrader.Upgrade(c.Writer, c.Request, nil)
	if err != nil {
		slog.Error("failed to upgrade the websocket", "error", err)
		return
	}
	slog.Info("Diagnostics subscriber connected", "session_id", sess.ID())

	// Upgraded connections outlive the request context on some servers.
	if err := h.svc.Hub().Serve(context.WithoutCancel(c.Request.Context()), sess.ID(), ws); err != nil {
		slog.Info("Diagnostics subscriber disconnected", "session_id", sess.ID(), "error", err)
	}
}

// HandleEndSession handles DELETE /v1/editor/session.
//
// Response:
//
//	200 OK: EndSessionResponse
//	400 Bad Request: SESSION_REQUIRED
//	404 Not Found: SESSION_NOT_FOUND
func (h *Handlers) HandleEndSession(c *gin.Context) {
	id := c.GetHeader(SessionHeader)
	if id == "" {
		c.JSON(http.StatusBadRequest, ErrorResponse{Error: ErrSessionRequired.Error(), Code: "SESSION_REQUIRED"})
		return
	}
	if !h.svc.EndSession(id) {
		c.JSON(http.StatusNotFound, ErrorResponse{Error: ErrSessionNotFound.Error(), Code: "SESSION_NOT_FOUND"})
		return
	}
	c.JSON(http.StatusOK, EndSessionResponse{SessionID: id, Ended: true})
}

// HandleHealth handles GET /v1/editor/health.
func (h *Handlers) HandleHealth(c *gin.Context) {
	c.JSON(http.StatusOK, HealthResponse{
		Status:  "healthy",
		Version: ServiceVersion,
	})
}

// HandleReady handles GET /v1/editor/ready.
//
// Response:
//
//	200 OK: ReadyResponse (Ready=true)
//	503 Service Unavailable: ReadyResponse (Ready=false) during shutdown
func (h *Handlers) HandleReady(c *gin.Context) {
	resp := ReadyResponse{
		Ready:    !h.svc.isClosed(),
		Sessions: h.svc.SessionCount(),
		Lanes:    h.svc.LaneCount(),
	}
	if !resp.Ready {
		c.JSON(http.StatusServiceUnavailable, resp)
		return
	}
	c.JSON(http.StatusOK, resp)
}

// requestParams flattens query and form values, first value wins.
func requestParams(c *gin.Context) (map[string]string, error) {
	if err := c.Request.ParseForm(); err != nil {
		return nil, err
	}
	params := make(map[string]string, len(c.Request.Form))
	for key, values := range c.Request.Form {
		if len(values) > 0 {
			params[key] = values[0]
		}
	}
	return params, nil
}

// errorStatus maps dispatch errors to an HTTP status and error code.
func errorStatus(err error) (int, string) {
	switch {
	case errors.Is(err, classify.ErrBadRequest):
		return http.StatusBadRequest, "INVALID_REQUEST"
	case errors.Is(err, document.ErrRange):
		return http.StatusBadRequest, "INVALID_RANGE"
	case errors.Is(err, persistence.ErrInvalidResourceID):
		return http.StatusBadRequest, "INVALID_RESOURCE"
	case errors.Is(err, persistence.ErrResourceNotFound):
		return http.StatusNotFound, "RESOURCE_NOT_FOUND"
	case errors.Is(err, scheduler.ErrSessionEnded):
		return http.StatusNotFound, "SESSION_NOT_FOUND"
	case errors.Is(err, scheduler.ErrClosed):
		return http.StatusServiceUnavailable, "SERVICE_CLOSED"
	case errors.Is(err, context.Canceled), errors.Is(err, context.DeadlineExceeded):
		return http.StatusServiceUnavailable, "REQUEST_ABORTED"
	default:
		return http.StatusInternalServerError, "DISPATCH_FAILED"
	}
}

// getOrCreateRequestID gets or creates a request ID.
func getOrCreateRequestID(c *gin.Context) string {
	requestID := c.GetHeader("X-Request-ID")
	if requestID == "" {
		requestID = uuid.NewString()
	}
	c.Header("X-Request-ID", requestID)
	return requestID
}
