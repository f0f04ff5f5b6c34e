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
	"log/slog"
	"sync"
	"time"

	"github.com/AleutianAI/AleutianEdit/services/editor/validation"
	"github.com/gorilla/websocket"
)

const (
	// subscriberBuffer is how many diagnostics a slow subscriber may fall
	// behind before messages are dropped.
	subscriberBuffer = 16

	writeWait  = 10 * time.Second
	pingPeriod = 30 * time.Second
)

// Hub fans diagnostics out to the websocket subscribers of a session.
//
// PublishDiagnostics never blocks: it runs on validation goroutines while
// they hold their publish lock.
//
// Thread Safety: Safe for concurrent use.
type Hub struct {
	logger *slog.Logger

	mu      sync.Mutex
	clients map[string]map[*subscriber]struct{}
	closed  bool
}

type subscriber struct {
	send chan DiagnosticsMessage
	done chan struct{}
	once sync.Once
}

func (s *subscriber) close() {
	s.once.Do(func() { close(s.done) })
}

// NewHub creates a hub with no subscribers.
func NewHub(logger *slog.Logger) *Hub {
	if logger == nil {
		logger = slog.Default()
	}
	return &Hub{
		logger:  logger.With(slog.String("component", "diagnostics_hub")),
		clients: make(map[string]map[*subscriber]struct{}),
	}
}

// PublishDiagnostics queues result for every subscriber of the session.
// Subscribers whose queue is full miss the message.
func (h *Hub) PublishDiagnostics(sessionID string, result validation.Result) {
	msg := DiagnosticsMessage{Action: "diagnostics", SessionID: sessionID, Result: result}

	h.mu.Lock()
	defer h.mu.Unlock()
	for sub := range h.clients[sessionID] {
		select {
		case sub.send <- msg:
		default:
			h.logger.Warn("diagnostics subscriber is slow, dropping message",
				slog.String("session_id", sessionID),
				slog.String("state_id", result.StateID),
			)
		}
	}
}

// Subscribers returns the number of subscribers of a session.
func (h *Hub) Subscribers(sessionID string) int {
	h.mu.Lock()
	defer h.mu.Unlock()
	return len(h.clients[sessionID])
}

// CloseSession disconnects every subscriber of the session.
func (h *Hub) CloseSession(sessionID string) {
	h.mu.Lock()
	defer h.mu.Unlock()
	for sub := range h.clients[sessionID] {
		sub.close()
	}
	delete(h.clients, sessionID)
}

// Close disconnects every subscriber and rejects new ones.
func (h *Hub) Close() {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.closed = true
	for id, subs := range h.clients {
		for sub := range subs {
			sub.close()
		}
		delete(h.clients, id)
	}
}

func (h *Hub) subscribe(sessionID string) (*subscriber, bool) {
	sub := &subscriber{
		send: make(chan DiagnosticsMessage, subscriberBuffer),
		done: make(chan struct{}),
	}
	h.mu.Lock()
	defer h.mu.Unlock()
	if h.closed {
		return nil, false
	}
	if h.clients[sessionID] == nil {
		h.clients[sessionID] = make(map[*subscriber]struct{})
	}
	h.clients[sessionID][sub] = struct{}{}
	return sub, true
}

func (h *Hub) unsubscribe(sessionID string, sub *subscriber) {
	h.mu.Lock()
	defer h.mu.Unlock()
	if subs, ok := h.clients[sessionID]; ok {
		delete(subs, sub)
		if len(subs) == 0 {
			delete(h.clients, sessionID)
		}
	}
	sub.close()
}

// Serve streams the session's diagnostics to conn.
//
// Description:
//
//	Sends a SessionMessage, then every published DiagnosticsMessage, until
//	the client disconnects, the session ends, the hub closes or ctx is
//	done. Closes conn before returning.
//
// Inputs:
//
//	ctx - Bounds the stream.
//	sessionID - The session to follow.
//	conn - An upgraded websocket connection. Serve owns it.
//
// Outputs:
//
//	error - The write error that ended the stream, or nil.
func (h *Hub) Serve(ctx context.Context, sessionID string, conn *websocket.Conn) error {
	defer conn.Close()

	sub, ok := h.subscribe(sessionID)
	if !ok {
		_ = conn.WriteControl(websocket.CloseMessage,
			websocket.FormatCloseMessage(websocket.CloseGoingAway, "shutting down"),
			time.Now().Add(writeWait))
		return ErrServiceClosed
	}
	defer h.unsubscribe(sessionID, sub)

	// Reads only detect the peer going away; clients send nothing.
	go func() {
		for {
			if _, _, err := conn.ReadMessage(); err != nil {
				sub.close()
				return
			}
		}
	}()

	if err := h.write(conn, SessionMessage{Action: "session", SessionID: sessionID}); err != nil {
		return err
	}

	ticker := time.NewTicker(pingPeriod)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return h.closeConn(conn, websocket.CloseGoingAway, "context done")
		case <-sub.done:
			return h.closeConn(conn, websocket.CloseNormalClosure, "session ended")
		case msg := <-sub.send:
			if err := h.write(conn, msg); err != nil {
				return err
			}
		case <-ticker.C:
			if err := conn.WriteControl(websocket.PingMessage, nil, time.Now().Add(writeWait)); err != nil {
				return err
			}
		}
	}
}

func (h *Hub) write(conn *websocket.Conn, v any) error {
	if err := conn.SetWriteDeadline(time.Now().Add(writeWait)); err != nil {
		return err
	}
	if err := conn.WriteJSON(v); err != nil {
		h.logger.Warn("failed to write websocket message", slog.String("error", err.Error()))
		return err
	}
	return nil
}

func (h *Hub) closeConn(conn *websocket.Conn, code int, text string) error {
	// The peer may already be gone; the close frame is best effort.
	_ = conn.WriteControl(websocket.CloseMessage,
		websocket.FormatCloseMessage(code, text), time.Now().Add(writeWait))
	return nil
}
