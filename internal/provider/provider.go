// ABOUTME: Provider interface and record types for the upstream messaging API
// ABOUTME: Conversations, participants, messages and the typed provider error

package provider

import (
	"context"
	"errors"
	"fmt"
	"time"
)

// ErrNotFound is returned when a conversation does not exist upstream.
var ErrNotFound = errors.New("provider: not found")

// Order for message listings.
const (
	OrderAsc  = "asc"
	OrderDesc = "desc"
)

// Conversation is a provider-side conversation record.
// Attributes is the raw, provider-opaque JSON blob and must be parsed defensively.
type Conversation struct {
	SID          string
	FriendlyName string
	Attributes   string
	DateCreated  *time.Time
	DateUpdated  *time.Time
}

// Participant is an address bound to a conversation.
type Participant struct {
	SID string
	// Address is the messaging-binding address (phone number); empty for
	// chat-only participants.
	Address string
	// ProxyAddress is the binding's proxy (our number), if any.
	ProxyAddress string
	Identity     string
}

// Message is a single message in a conversation or a direct SMS.
type Message struct {
	SID             string
	ConversationSID string
	Author          string
	Body            string
	DateCreated     *time.Time
}

// ListMessagesOptions narrows a message listing.
type ListMessagesOptions struct {
	Limit int
	Order string
}

// NewConversation describes a conversation to create.
type NewConversation struct {
	FriendlyName string
	Attributes   string
}

// Provider is what relaydesk needs from the communications API.
type Provider interface {
	ListConversations(ctx context.Context) ([]Conversation, error)
	FetchConversation(ctx context.Context, conversationSID string) (*Conversation, error)
	CreateConversation(ctx context.Context, conv NewConversation) (*Conversation, error)
	DeleteConversation(ctx context.Context, conversationSID string) error

	ListParticipants(ctx context.Context, conversationSID string) ([]Participant, error)
	AddSMSParticipant(ctx context.Context, conversationSID, address, proxyAddress string) (*Participant, error)

	ListMessages(ctx context.Context, conversationSID string, opts ListMessagesOptions) ([]Message, error)
	CreateMessage(ctx context.Context, conversationSID, body, author string) (*Message, error)
	CreateDirectMessage(ctx context.Context, body, from, to string) (*Message, error)
}

// Error is a failed provider REST call.
type Error struct {
	Op       string
	Status   int
	Code     int
	Message  string
	MoreInfo string
}

func (e *Error) Error() string {
	if e.Code != 0 {
		return fmt.Sprintf("provider: %s: status %d code %d: %s", e.Op, e.Status, e.Code, e.Message)
	}
	return fmt.Sprintf("provider: %s: status %d: %s", e.Op, e.Status, e.Message)
}

// Is reports 404s as ErrNotFound so callers can use errors.Is.
func (e *Error) Is(target error) bool {
	return target == ErrNotFound && e.Status == 404
}

// LogAttrs returns the error's provider context as slog key/value pairs.
// Non-provider errors yield only the error itself.
func LogAttrs(err error) []any {
	var perr *Error
	if errors.As(err, &perr) {
		return []any{
			"error", err,
			"code", perr.Code,
			"status", perr.Status,
			"more_info", perr.MoreInfo,
		}
	}
	return []any{"error", err}
}
