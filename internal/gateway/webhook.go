// ABOUTME: Provider webhook handlers that turn conversation events into client broadcasts
// ABOUTME: Covers Conversations post-event webhooks and inbound direct SMS

package gateway

import (
	"context"
	"net/http"
	"time"

	"github.com/2389/relaydesk/internal/broadcast"
	"github.com/2389/relaydesk/internal/conversation"
	"github.com/2389/relaydesk/internal/provider"
)

// Conversations post-event types we react to.
const (
	eventMessageAdded        = "onMessageAdded"
	eventConversationUpdated = "onConversationUpdated"
	eventConversationRemoved = "onConversationRemoved"
)

// emptyTwiML acknowledges a Messaging webhook without replying.
const emptyTwiML = `<?xml version="1.0" encoding="UTF-8"?><Response></Response>`

func (g *Gateway) handleConversationWebhook(w http.ResponseWriter, r *http.Request) {
	if err := r.ParseForm(); err != nil {
		g.sendJSONError(w, http.StatusBadRequest, "invalid form body")
		return
	}

	eventType := r.PostForm.Get("EventType")
	sid := r.PostForm.Get("ConversationSid")
	logger := g.logger.With("event_type", eventType, "conversation_sid", sid)

	if sid == "" {
		logger.Warn("webhook without conversation sid")
		g.sendJSONError(w, http.StatusBadRequest, "ConversationSid is required")
		return
	}

	switch eventType {
	case eventMessageAdded:
		dateCreated := parseWebhookTime(r.PostForm.Get("DateCreated"))
		body := r.PostForm.Get("Body")
		g.registry.Publish(broadcast.NewNewMessage(
			sid,
			r.PostForm.Get("MessageSid"),
			r.PostForm.Get("Author"),
			body,
			dateCreated,
		))
		g.publishConversationUpdate(r, sid, body, dateCreated)
		logger.Debug("message added", "message_sid", r.PostForm.Get("MessageSid"))

	case eventConversationUpdated:
		attrs := conversation.ParseAttributesOrEmpty(r.PostForm.Get("Attributes"))
		lastMessage, lastMessageTime := g.lastMessage(r.Context(), sid)
		g.registry.Publish(broadcast.NewUpdateConversation(
			sid,
			r.PostForm.Get("FriendlyName"),
			lastMessage,
			lastMessageTime,
			attrs.Raw,
		))
		logger.Debug("conversation updated")

	case eventConversationRemoved:
		g.registry.Publish(broadcast.NewDeleteConversation(sid))
		logger.Info("conversation removed")

	default:
		logger.Debug("ignoring webhook event")
		w.WriteHeader(http.StatusOK)
		return
	}

	g.cache.Invalidate()
	w.WriteHeader(http.StatusOK)
}

// publishConversationUpdate announces a conversation's new last message.
// Fetch failures are logged only.
func (g *Gateway) publishConversationUpdate(r *http.Request, sid, lastMessage string, at *time.Time) {
	conv, err := g.provider.FetchConversation(r.Context(), sid)
	if err != nil {
		g.logger.Warn("failed to fetch conversation for update broadcast", "conversation_sid", sid, "error", err)
		return
	}
	attrs := conversation.ParseAttributesOrEmpty(conv.Attributes)
	g.registry.Publish(broadcast.NewUpdateConversation(conv.SID, conv.FriendlyName, lastMessage, at, attrs.Raw))
}

// lastMessage returns the newest message body and time in a conversation.
// Lookup failures are logged and yield an empty preview.
func (g *Gateway) lastMessage(ctx context.Context, sid string) (string, *time.Time) {
	msgs, err := g.provider.ListMessages(ctx, sid, provider.ListMessagesOptions{
		Limit: 1,
		Order: provider.OrderDesc,
	})
	if err != nil {
		g.logger.Warn("failed to fetch last message for update broadcast", "conversation_sid", sid, "error", err)
		return "", nil
	}
	if len(msgs) == 0 {
		return "", nil
	}
	return msgs[0].Body, msgs[0].DateCreated
}

// handleInboundSMS relays a direct (non-conversation) inbound SMS to clients.
func (g *Gateway) handleInboundSMS(w http.ResponseWriter, r *http.Request) {
	if err := r.ParseForm(); err != nil {
		http.Error(w, "invalid form body", http.StatusBadRequest)
		return
	}

	from := r.PostForm.Get("From")
	now := time.Now().UTC()
	g.registry.Publish(broadcast.NewNewMessage(
		"",
		r.PostForm.Get("MessageSid"),
		from,
		r.PostForm.Get("Body"),
		&now,
	))
	g.logger.Info("inbound sms", "from", from, "message_sid", r.PostForm.Get("MessageSid"))

	w.Header().Set("Content-Type", "text/xml")
	w.WriteHeader(http.StatusOK)
	_, _ = w.Write([]byte(emptyTwiML))
}

// parseWebhookTime parses the ISO 8601 timestamps in webhook payloads.
func parseWebhookTime(s string) *time.Time {
	if s == "" {
		return nil
	}
	t, err := time.Parse(time.RFC3339, s)
	if err != nil {
		return nil
	}
	return &t
}
