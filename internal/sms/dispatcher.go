// ABOUTME: Outbound message dispatcher with dedup window and live broadcasts
// ABOUTME: Chooses conversation vs direct channel and publishes newMessage/updateConversation

package sms

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/2389/relaydesk/internal/broadcast"
	"github.com/2389/relaydesk/internal/conversation"
	"github.com/2389/relaydesk/internal/dedupe"
	"github.com/2389/relaydesk/internal/provider"
)

const (
	// DefaultDedupWindow is how long an identical (to, body) pair is suppressed.
	DefaultDedupWindow = 60 * time.Second

	defaultDedupMaxEntries = 10_000
)

// ErrInvalidRequest is returned when a send lacks a destination or body.
var ErrInvalidRequest = errors.New("sms: to and body are required")

// Publisher publishes events to connected clients.
// It reports false when nothing is listening.
type Publisher interface {
	Publish(payload any) bool
}

// SendRequest is one outbound message.
type SendRequest struct {
	To   string
	Body string
	// ConversationSID selects the conversation channel; empty sends direct SMS.
	ConversationSID string
	// Author defaults to the dispatcher's own number.
	Author string
}

// SendResult is the outcome of a send that did not error.
type SendResult struct {
	Success    bool   `json:"success"`
	MessageSID string `json:"messageSid,omitempty"`
	Duplicate  bool   `json:"duplicate,omitempty"`
}

// Config configures a Dispatcher.
type Config struct {
	Provider  provider.Provider
	Publisher Publisher
	// FromNumber is our address: the direct-SMS source and default author.
	FromNumber string
	// Dedup overrides the default 60s window.
	Dedup  *dedupe.Cache
	Logger *slog.Logger
}

// Dispatcher sends outbound messages.
type Dispatcher struct {
	provider  provider.Provider
	publisher Publisher
	from      string
	sent      *dedupe.Cache
	logger    *slog.Logger
}

// NewDispatcher creates a Dispatcher.
func NewDispatcher(cfg Config) (*Dispatcher, error) {
	if cfg.Provider == nil {
		return nil, errors.New("sms: provider is required")
	}
	if cfg.FromNumber == "" {
		return nil, errors.New("sms: from number is required")
	}
	logger := cfg.Logger
	if logger == nil {
		logger = slog.Default()
	}
	sent := cfg.Dedup
	if sent == nil {
		sent = dedupe.New(DefaultDedupWindow, defaultDedupMaxEntries)
	}
	return &Dispatcher{
		provider:  cfg.Provider,
		publisher: cfg.Publisher,
		from:      cfg.FromNumber,
		sent:      sent,
		logger:    logger.With("component", "sms"),
	}, nil
}

// FromNumber returns the dispatcher's own address.
func (d *Dispatcher) FromNumber() string { return d.from }

func messageKey(to, body string) string {
	return to + "-" + body
}

// IsDuplicate reports whether (to, body) was sent or claimed within the
// dedup window.
func (d *Dispatcher) IsDuplicate(to, body string) bool {
	return d.sent.Check(messageKey(to, body))
}

// SendSMS sends req, or reports a duplicate if the same (to, body) pair was
// sent or is being sent within the dedup window. The pair is claimed before
// the provider call and released if the send fails, so concurrent identical
// sends go out once and failed sends stay retryable. Provider send errors are
// logged and returned.
func (d *Dispatcher) SendSMS(ctx context.Context, req SendRequest) (*SendResult, error) {
	if req.To == "" || req.Body == "" {
		return nil, ErrInvalidRequest
	}

	key := messageKey(req.To, req.Body)
	if d.sent.CheckAndMark(key) {
		d.logger.Info("suppressing duplicate message",
			"to", req.To, "conversation_sid", req.ConversationSID)
		return &SendResult{Duplicate: true}, nil
	}

	var (
		res *SendResult
		err error
	)
	if req.ConversationSID != "" {
		res, err = d.sendToConversation(ctx, req)
	} else {
		res, err = d.sendDirect(ctx, req)
	}
	if err != nil {
		d.sent.Forget(key)
		return nil, err
	}

	// The window runs from the completed send.
	d.sent.Mark(key)
	d.logger.Debug("dedup window opened", "to", req.To, "dedup_entries", d.sent.Len())
	return res, nil
}

func (d *Dispatcher) sendToConversation(ctx context.Context, req SendRequest) (*SendResult, error) {
	author := req.Author
	if author == "" {
		author = d.from
	}

	msg, err := d.provider.CreateMessage(ctx, req.ConversationSID, req.Body, author)
	if err != nil {
		d.logger.Error("failed to send conversation message",
			append([]any{"conversation_sid", req.ConversationSID, "to", req.To}, provider.LogAttrs(err)...)...)
		return nil, fmt.Errorf("sending to conversation %s: %w", req.ConversationSID, err)
	}
	d.logger.Info("conversation message sent",
		"conversation_sid", req.ConversationSID, "message_sid", msg.SID)

	d.publish(broadcast.NewNewMessage(req.ConversationSID, msg.SID, author, req.Body, msg.DateCreated))
	d.publishConversationUpdate(ctx, req.ConversationSID, req.Body, msg.DateCreated)

	return &SendResult{Success: true, MessageSID: msg.SID}, nil
}

func (d *Dispatcher) sendDirect(ctx context.Context, req SendRequest) (*SendResult, error) {
	msg, err := d.provider.CreateDirectMessage(ctx, req.Body, d.from, req.To)
	if err != nil {
		d.logger.Error("failed to send sms",
			append([]any{"to", req.To}, provider.LogAttrs(err)...)...)
		return nil, fmt.Errorf("sending sms to %s: %w", req.To, err)
	}
	d.logger.Info("sms sent", "to", req.To, "message_sid", msg.SID)

	d.publish(broadcast.NewNewMessage("", msg.SID, d.from, req.Body, msg.DateCreated))

	return &SendResult{Success: true, MessageSID: msg.SID}, nil
}

// publishConversationUpdate re-fetches the conversation and announces its new
// summary. Failures are logged only.
func (d *Dispatcher) publishConversationUpdate(ctx context.Context, conversationSID, lastMessage string, sentAt *time.Time) {
	conv, err := d.provider.FetchConversation(ctx, conversationSID)
	if err != nil {
		d.logger.Error("failed to fetch conversation for update broadcast",
			append([]any{"conversation_sid", conversationSID}, provider.LogAttrs(err)...)...)
		return
	}

	attrs := conversation.ParseAttributesOrEmpty(conv.Attributes)
	d.publish(broadcast.NewUpdateConversation(conv.SID, conv.FriendlyName, lastMessage, sentAt, attrs.Raw))
}

func (d *Dispatcher) publish(payload any) {
	if d.publisher == nil || !d.publisher.Publish(payload) {
		d.logger.Warn("no broadcaster registered, skipping client notification")
	}
}
