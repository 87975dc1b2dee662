// ABOUTME: JSON API handlers for the agent dashboard
// ABOUTME: Lists, searches, starts and deletes conversations and sends messages

package gateway

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"strings"

	"github.com/2389/relaydesk/internal/broadcast"
	"github.com/2389/relaydesk/internal/provider"
	"github.com/2389/relaydesk/internal/sms"
)

// maxRequestBody bounds JSON request bodies.
const maxRequestBody = 64 << 10

// SendMessageRequest is the body of POST /api/conversations/{sid}/messages.
type SendMessageRequest struct {
	To     string `json:"to"`
	Body   string `json:"body"`
	Author string `json:"author,omitempty"`
}

// SendSMSRequest is the body of POST /api/sms.
type SendSMSRequest struct {
	To   string `json:"to"`
	Body string `json:"body"`
}

// StartConversationRequest is the body of POST /api/conversations.
type StartConversationRequest struct {
	To           string `json:"to"`
	Body         string `json:"body"`
	FriendlyName string `json:"friendlyName,omitempty"`
	Email        string `json:"email,omitempty"`
	Name         string `json:"name,omitempty"`
}

// StartConversationResponse is returned when a conversation is created.
type StartConversationResponse struct {
	ConversationSID string `json:"conversationSid"`
	MessageSID      string `json:"messageSid,omitempty"`
	Duplicate       bool   `json:"duplicate,omitempty"`
}

func (g *Gateway) handleListConversations(w http.ResponseWriter, r *http.Request) {
	if err := g.cache.UpdateCache(r.Context()); err != nil {
		g.sendJSONError(w, http.StatusBadGateway, "failed to refresh conversations")
		return
	}
	g.sendJSON(w, http.StatusOK, g.cache.Conversations())
}

func (g *Gateway) handleSearchConversations(w http.ResponseWriter, r *http.Request) {
	if err := g.cache.UpdateCache(r.Context()); err != nil {
		g.sendJSONError(w, http.StatusBadGateway, "failed to refresh conversations")
		return
	}
	g.sendJSON(w, http.StatusOK, g.cache.SearchConversations(r.URL.Query().Get("q")))
}

func (g *Gateway) handleSendConversationMessage(w http.ResponseWriter, r *http.Request) {
	sid := r.PathValue("sid")

	var req SendMessageRequest
	if !g.decodeJSON(w, r, &req) {
		return
	}

	result, err := g.dispatcher.SendSMS(r.Context(), sms.SendRequest{
		To:              req.To,
		Body:            req.Body,
		ConversationSID: sid,
		Author:          req.Author,
	})
	if err != nil {
		g.sendDispatchError(w, err)
		return
	}
	g.sendJSON(w, http.StatusOK, result)
}

func (g *Gateway) handleSendSMS(w http.ResponseWriter, r *http.Request) {
	var req SendSMSRequest
	if !g.decodeJSON(w, r, &req) {
		return
	}

	result, err := g.dispatcher.SendSMS(r.Context(), sms.SendRequest{To: req.To, Body: req.Body})
	if err != nil {
		g.sendDispatchError(w, err)
		return
	}
	g.sendJSON(w, http.StatusOK, result)
}

func (g *Gateway) handleStartConversation(w http.ResponseWriter, r *http.Request) {
	var req StartConversationRequest
	if !g.decodeJSON(w, r, &req) {
		return
	}
	req.To = strings.TrimSpace(req.To)
	if req.To == "" || req.Body == "" {
		g.sendJSONError(w, http.StatusBadRequest, "to and body are required")
		return
	}
	if req.FriendlyName == "" {
		req.FriendlyName = req.To
	}
	if g.dispatcher.IsDuplicate(req.To, req.Body) {
		g.sendJSON(w, http.StatusOK, sms.SendResult{Duplicate: true})
		return
	}

	attrs, err := json.Marshal(map[string]string{
		"email": req.Email,
		"name":  req.Name,
	})
	if err != nil {
		g.sendJSONError(w, http.StatusInternalServerError, "failed to encode attributes")
		return
	}

	conv, err := g.provider.CreateConversation(r.Context(), provider.NewConversation{
		FriendlyName: req.FriendlyName,
		Attributes:   string(attrs),
	})
	if err != nil {
		g.logger.Error("failed to create conversation", append(provider.LogAttrs(err), "to", req.To)...)
		g.sendJSONError(w, http.StatusBadGateway, "failed to create conversation")
		return
	}
	g.cache.Invalidate()

	if _, err := g.provider.AddSMSParticipant(r.Context(), conv.SID, req.To, g.dispatcher.FromNumber()); err != nil {
		g.logger.Error("failed to add participant", append(provider.LogAttrs(err), "conversation_sid", conv.SID)...)
		g.discardConversation(context.WithoutCancel(r.Context()), conv.SID)
		g.sendJSONError(w, http.StatusBadGateway, "failed to add participant")
		return
	}

	result, err := g.dispatcher.SendSMS(r.Context(), sms.SendRequest{
		To:              req.To,
		Body:            req.Body,
		ConversationSID: conv.SID,
	})
	if err != nil {
		g.sendDispatchError(w, err)
		return
	}

	g.logger.Info("conversation started", "conversation_sid", conv.SID, "to", req.To)
	g.sendJSON(w, http.StatusCreated, StartConversationResponse{
		ConversationSID: conv.SID,
		MessageSID:      result.MessageSID,
		Duplicate:       result.Duplicate,
	})
}

func (g *Gateway) handleDeleteConversation(w http.ResponseWriter, r *http.Request) {
	sid := r.PathValue("sid")

	if err := g.provider.DeleteConversation(r.Context(), sid); err != nil {
		if errors.Is(err, provider.ErrNotFound) {
			g.sendJSONError(w, http.StatusNotFound, "conversation not found")
			return
		}
		g.logger.Error("failed to delete conversation", append(provider.LogAttrs(err), "conversation_sid", sid)...)
		g.sendJSONError(w, http.StatusBadGateway, "failed to delete conversation")
		return
	}

	g.cache.Invalidate()
	g.registry.Publish(broadcast.NewDeleteConversation(sid))
	g.logger.Info("conversation deleted", "conversation_sid", sid)
	w.WriteHeader(http.StatusNoContent)
}

// discardConversation deletes a half-created conversation. Failures leave an
// orphan upstream and are logged with its sid.
func (g *Gateway) discardConversation(ctx context.Context, sid string) {
	if err := g.provider.DeleteConversation(ctx, sid); err != nil {
		g.logger.Error("failed to delete orphaned conversation",
			append(provider.LogAttrs(err), "conversation_sid", sid)...)
		return
	}
	g.logger.Info("deleted orphaned conversation", "conversation_sid", sid)
}

// sendDispatchError maps dispatcher errors to HTTP statuses.
func (g *Gateway) sendDispatchError(w http.ResponseWriter, err error) {
	switch {
	case errors.Is(err, sms.ErrInvalidRequest):
		g.sendJSONError(w, http.StatusBadRequest, err.Error())
	case errors.Is(err, provider.ErrNotFound):
		g.sendJSONError(w, http.StatusNotFound, "conversation not found")
	default:
		g.sendJSONError(w, http.StatusBadGateway, "failed to send message")
	}
}

// decodeJSON reads a bounded JSON body into dst, writing a 400 on failure.
func (g *Gateway) decodeJSON(w http.ResponseWriter, r *http.Request, dst any) bool {
	r.Body = http.MaxBytesReader(w, r.Body, maxRequestBody)
	if err := json.NewDecoder(r.Body).Decode(dst); err != nil {
		g.sendJSONError(w, http.StatusBadRequest, "invalid JSON body")
		return false
	}
	return true
}

func (g *Gateway) sendJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		g.logger.Error("failed to encode response", "error", err)
	}
}

// sendJSONError sends a JSON error response.
func (g *Gateway) sendJSONError(w http.ResponseWriter, status int, message string) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(map[string]string{"error": message})
}
