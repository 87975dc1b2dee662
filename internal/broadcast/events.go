// ABOUTME: Event payloads pushed to dashboard clients over the websocket
// ABOUTME: Field names are part of the browser contract

package broadcast

import (
	"encoding/json"
	"time"
)

// Event types.
const (
	TypeNewMessage         = "newMessage"
	TypeUpdateConversation = "updateConversation"
	TypeDeleteConversation = "deleteConversation"
)

// NewMessage announces a message added to a conversation (or a direct SMS,
// in which case ConversationSID is empty).
type NewMessage struct {
	Type            string     `json:"type"`
	ConversationSID string     `json:"conversationSid"`
	MessageSID      string     `json:"messageSid"`
	Author          string     `json:"author"`
	Body            string     `json:"body"`
	DateCreated     *time.Time `json:"dateCreated"`
}

// UpdateConversation carries a conversation's refreshed summary.
// Attributes is the parsed attribute object ({} when absent or invalid).
type UpdateConversation struct {
	Type            string          `json:"type"`
	ConversationSID string          `json:"conversationSid"`
	FriendlyName    string          `json:"friendlyName"`
	LastMessage     string          `json:"lastMessage"`
	LastMessageTime *time.Time      `json:"lastMessageTime"`
	Attributes      json.RawMessage `json:"attributes"`
}

// DeleteConversation tells clients to drop a conversation.
type DeleteConversation struct {
	Type            string `json:"type"`
	ConversationSID string `json:"conversationSid"`
}

// NewNewMessage builds a newMessage event.
func NewNewMessage(conversationSID, messageSID, author, body string, dateCreated *time.Time) NewMessage {
	return NewMessage{
		Type:            TypeNewMessage,
		ConversationSID: conversationSID,
		MessageSID:      messageSID,
		Author:          author,
		Body:            body,
		DateCreated:     dateCreated,
	}
}

// NewUpdateConversation builds an updateConversation event. Nil or empty
// attributes are sent as {}.
func NewUpdateConversation(conversationSID, friendlyName, lastMessage string, lastMessageTime *time.Time, attributes json.RawMessage) UpdateConversation {
	if len(attributes) == 0 {
		attributes = json.RawMessage(`{}`)
	}
	return UpdateConversation{
		Type:            TypeUpdateConversation,
		ConversationSID: conversationSID,
		FriendlyName:    friendlyName,
		LastMessage:     lastMessage,
		LastMessageTime: lastMessageTime,
		Attributes:      attributes,
	}
}

// NewDeleteConversation builds a deleteConversation event.
func NewDeleteConversation(conversationSID string) DeleteConversation {
	return DeleteConversation{Type: TypeDeleteConversation, ConversationSID: conversationSID}
}
