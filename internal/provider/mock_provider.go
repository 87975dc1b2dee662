// ABOUTME: Mock Provider implementation for testing
// ABOUTME: In-memory conversations/messages with call counters and injectable errors

package provider

import (
	"context"
	"fmt"
	"sync"
	"time"
)

// MockProvider is an in-memory Provider for tests.
// Set the *Err fields to make the corresponding call fail.
type MockProvider struct {
	mu sync.Mutex

	conversations []Conversation
	participants  map[string][]Participant
	messages      map[string][]Message
	direct        []Message
	nextID        int

	ListConversationsErr   error
	FetchConversationErr   error
	CreateConversationErr  error
	DeleteConversationErr  error
	ListParticipantsErr    error
	AddParticipantErr      error
	ListMessagesErr        error
	CreateMessageErr       error
	CreateDirectMessageErr error

	calls map[string]int
}

// NewMockProvider creates an empty MockProvider.
func NewMockProvider() *MockProvider {
	return &MockProvider{
		participants: make(map[string][]Participant),
		messages:     make(map[string][]Message),
		calls:        make(map[string]int),
	}
}

// AddConversation seeds a conversation.
func (m *MockProvider) AddConversation(c Conversation) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.conversations = append(m.conversations, c)
}

// AddParticipant seeds a participant on a conversation.
func (m *MockProvider) AddParticipant(conversationSID string, p Participant) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.participants[conversationSID] = append(m.participants[conversationSID], p)
}

// AddMessage seeds a message on a conversation.
func (m *MockProvider) AddMessage(conversationSID string, msg Message) {
	m.mu.Lock()
	defer m.mu.Unlock()
	msg.ConversationSID = conversationSID
	m.messages[conversationSID] = append(m.messages[conversationSID], msg)
}

// Calls returns how many times the named method was invoked.
func (m *MockProvider) Calls(method string) int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.calls[method]
}

// DirectMessages returns the SMS sent outside conversations.
func (m *MockProvider) DirectMessages() []Message {
	m.mu.Lock()
	defer m.mu.Unlock()
	return append([]Message(nil), m.direct...)
}

func (m *MockProvider) record(method string) {
	m.calls[method]++
}

func (m *MockProvider) newSID(prefix string) string {
	m.nextID++
	return fmt.Sprintf("%s%04d", prefix, m.nextID)
}

func (m *MockProvider) ListConversations(ctx context.Context) ([]Conversation, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.record("ListConversations")
	if m.ListConversationsErr != nil {
		return nil, m.ListConversationsErr
	}
	return append([]Conversation(nil), m.conversations...), nil
}

func (m *MockProvider) FetchConversation(ctx context.Context, conversationSID string) (*Conversation, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.record("FetchConversation")
	if m.FetchConversationErr != nil {
		return nil, m.FetchConversationErr
	}
	for _, c := range m.conversations {
		if c.SID == conversationSID {
			c := c
			return &c, nil
		}
	}
	return nil, &Error{Op: "fetch conversation", Status: 404, Code: 20404, Message: "not found"}
}

func (m *MockProvider) CreateConversation(ctx context.Context, conv NewConversation) (*Conversation, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.record("CreateConversation")
	if m.CreateConversationErr != nil {
		return nil, m.CreateConversationErr
	}
	now := time.Now()
	c := Conversation{
		SID:          m.newSID("CH"),
		FriendlyName: conv.FriendlyName,
		Attributes:   conv.Attributes,
		DateCreated:  &now,
	}
	m.conversations = append(m.conversations, c)
	return &c, nil
}

func (m *MockProvider) DeleteConversation(ctx context.Context, conversationSID string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.record("DeleteConversation")
	if m.DeleteConversationErr != nil {
		return m.DeleteConversationErr
	}
	for i, c := range m.conversations {
		if c.SID == conversationSID {
			m.conversations = append(m.conversations[:i], m.conversations[i+1:]...)
			delete(m.participants, conversationSID)
			delete(m.messages, conversationSID)
			return nil
		}
	}
	return &Error{Op: "delete conversation", Status: 404, Code: 20404, Message: "not found"}
}

func (m *MockProvider) ListParticipants(ctx context.Context, conversationSID string) ([]Participant, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.record("ListParticipants")
	if m.ListParticipantsErr != nil {
		return nil, m.ListParticipantsErr
	}
	return append([]Participant(nil), m.participants[conversationSID]...), nil
}

func (m *MockProvider) AddSMSParticipant(ctx context.Context, conversationSID, address, proxyAddress string) (*Participant, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.record("AddSMSParticipant")
	if m.AddParticipantErr != nil {
		return nil, m.AddParticipantErr
	}
	p := Participant{SID: m.newSID("MB"), Address: address, ProxyAddress: proxyAddress}
	m.participants[conversationSID] = append(m.participants[conversationSID], p)
	return &p, nil
}

func (m *MockProvider) ListMessages(ctx context.Context, conversationSID string, opts ListMessagesOptions) ([]Message, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.record("ListMessages")
	if m.ListMessagesErr != nil {
		return nil, m.ListMessagesErr
	}
	msgs := append([]Message(nil), m.messages[conversationSID]...)
	if opts.Order == OrderDesc {
		for i, j := 0, len(msgs)-1; i < j; i, j = i+1, j-1 {
			msgs[i], msgs[j] = msgs[j], msgs[i]
		}
	}
	if opts.Limit > 0 && len(msgs) > opts.Limit {
		msgs = msgs[:opts.Limit]
	}
	return msgs, nil
}

func (m *MockProvider) CreateMessage(ctx context.Context, conversationSID, body, author string) (*Message, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.record("CreateMessage")
	if m.CreateMessageErr != nil {
		return nil, m.CreateMessageErr
	}
	now := time.Now()
	msg := Message{
		SID:             m.newSID("IM"),
		ConversationSID: conversationSID,
		Author:          author,
		Body:            body,
		DateCreated:     &now,
	}
	m.messages[conversationSID] = append(m.messages[conversationSID], msg)
	return &msg, nil
}

func (m *MockProvider) CreateDirectMessage(ctx context.Context, body, from, to string) (*Message, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.record("CreateDirectMessage")
	if m.CreateDirectMessageErr != nil {
		return nil, m.CreateDirectMessageErr
	}
	now := time.Now()
	msg := Message{SID: m.newSID("SM"), Author: from, Body: body, DateCreated: &now}
	m.direct = append(m.direct, msg)
	return &msg, nil
}
