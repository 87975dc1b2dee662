// ABOUTME: Twilio-backed Provider built on the official twilio-go SDK
// ABOUTME: Maps SDK records to provider types and TwilioRestError to *Error

package provider

import (
	"context"
	"encoding/json"
	"errors"
	"time"

	"github.com/tidwall/gjson"
	"github.com/twilio/twilio-go"
	twclient "github.com/twilio/twilio-go/client"
	openapi "github.com/twilio/twilio-go/rest/api/v2010"
	conversations "github.com/twilio/twilio-go/rest/conversations/v1"
)

// TwilioConfig holds the account credentials.
type TwilioConfig struct {
	AccountSID string
	AuthToken  string
}

// TwilioClient implements Provider against the Twilio REST API.
// The SDK does not take a context; ctx is only checked before each call.
type TwilioClient struct {
	rest *twilio.RestClient
}

// NewTwilioClient creates a client for the given account.
func NewTwilioClient(cfg TwilioConfig) (*TwilioClient, error) {
	if cfg.AccountSID == "" || cfg.AuthToken == "" {
		return nil, errors.New("twilio: account_sid and auth_token are required")
	}
	rest := twilio.NewRestClientWithParams(twilio.ClientParams{
		Username: cfg.AccountSID,
		Password: cfg.AuthToken,
	})
	return &TwilioClient{rest: rest}, nil
}

// ListConversations returns every conversation on the service.
func (t *TwilioClient) ListConversations(ctx context.Context) ([]Conversation, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	params := &conversations.ListConversationParams{}
	params.SetPageSize(100)

	records, err := t.rest.ConversationsV1.ListConversation(params)
	if err != nil {
		return nil, mapError("list conversations", err)
	}
	out := make([]Conversation, 0, len(records))
	for i := range records {
		out = append(out, convertConversation(&records[i]))
	}
	return out, nil
}

// FetchConversation returns a single conversation.
func (t *TwilioClient) FetchConversation(ctx context.Context, conversationSID string) (*Conversation, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	rec, err := t.rest.ConversationsV1.FetchConversation(conversationSID)
	if err != nil {
		return nil, mapError("fetch conversation", err)
	}
	c := convertConversation(rec)
	return &c, nil
}

// CreateConversation creates a conversation with a friendly name and JSON attributes.
func (t *TwilioClient) CreateConversation(ctx context.Context, conv NewConversation) (*Conversation, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	params := &conversations.CreateConversationParams{}
	params.SetFriendlyName(conv.FriendlyName)
	if conv.Attributes != "" {
		params.SetAttributes(conv.Attributes)
	}
	rec, err := t.rest.ConversationsV1.CreateConversation(params)
	if err != nil {
		return nil, mapError("create conversation", err)
	}
	c := convertConversation(rec)
	return &c, nil
}

// DeleteConversation removes a conversation and its messages.
func (t *TwilioClient) DeleteConversation(ctx context.Context, conversationSID string) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	if err := t.rest.ConversationsV1.DeleteConversation(conversationSID, &conversations.DeleteConversationParams{}); err != nil {
		return mapError("delete conversation", err)
	}
	return nil
}

// ListParticipants returns the participants bound to a conversation.
func (t *TwilioClient) ListParticipants(ctx context.Context, conversationSID string) ([]Participant, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	records, err := t.rest.ConversationsV1.ListConversationParticipant(conversationSID, &conversations.ListConversationParticipantParams{})
	if err != nil {
		return nil, mapError("list participants", err)
	}
	out := make([]Participant, 0, len(records))
	for _, rec := range records {
		address, proxy := bindingAddresses(rec.MessagingBinding)
		out = append(out, Participant{
			SID:          deref(rec.Sid),
			Identity:     deref(rec.Identity),
			Address:      address,
			ProxyAddress: proxy,
		})
	}
	return out, nil
}

// AddSMSParticipant binds a phone number to a conversation through our number.
func (t *TwilioClient) AddSMSParticipant(ctx context.Context, conversationSID, address, proxyAddress string) (*Participant, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	params := &conversations.CreateConversationParticipantParams{}
	params.SetMessagingBindingAddress(address)
	params.SetMessagingBindingProxyAddress(proxyAddress)

	rec, err := t.rest.ConversationsV1.CreateConversationParticipant(conversationSID, params)
	if err != nil {
		return nil, mapError("add participant", err)
	}
	return &Participant{
		SID:          deref(rec.Sid),
		Address:      address,
		ProxyAddress: proxyAddress,
	}, nil
}

// ListMessages lists conversation messages, newest first when opts.Order is OrderDesc.
func (t *TwilioClient) ListMessages(ctx context.Context, conversationSID string, opts ListMessagesOptions) ([]Message, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	params := &conversations.ListConversationMessageParams{}
	if opts.Order != "" {
		params.SetOrder(opts.Order)
	}
	if opts.Limit > 0 {
		params.SetLimit(opts.Limit)
		params.SetPageSize(opts.Limit)
	}
	records, err := t.rest.ConversationsV1.ListConversationMessage(conversationSID, params)
	if err != nil {
		return nil, mapError("list messages", err)
	}
	out := make([]Message, 0, len(records))
	for i := range records {
		out = append(out, convertMessage(&records[i]))
	}
	return out, nil
}

// CreateMessage posts a message to a conversation's channel.
func (t *TwilioClient) CreateMessage(ctx context.Context, conversationSID, body, author string) (*Message, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	params := &conversations.CreateConversationMessageParams{}
	params.SetBody(body)
	params.SetAuthor(author)

	rec, err := t.rest.ConversationsV1.CreateConversationMessage(conversationSID, params)
	if err != nil {
		return nil, mapError("create message", err)
	}
	m := convertMessage(rec)
	return &m, nil
}

// CreateDirectMessage sends a plain SMS outside any conversation.
func (t *TwilioClient) CreateDirectMessage(ctx context.Context, body, from, to string) (*Message, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	params := &openapi.CreateMessageParams{}
	params.SetTo(to)
	params.SetFrom(from)
	params.SetBody(body)

	rec, err := t.rest.Api.CreateMessage(params)
	if err != nil {
		return nil, mapError("send sms", err)
	}
	return &Message{
		SID:         deref(rec.Sid),
		Author:      from,
		Body:        body,
		DateCreated: parseRFC2822(deref(rec.DateCreated)),
	}, nil
}

func convertConversation(rec *conversations.ConversationsV1Conversation) Conversation {
	return Conversation{
		SID:          deref(rec.Sid),
		FriendlyName: deref(rec.FriendlyName),
		Attributes:   deref(rec.Attributes),
		DateCreated:  rec.DateCreated,
		DateUpdated:  rec.DateUpdated,
	}
}

func convertMessage(rec *conversations.ConversationsV1ConversationMessage) Message {
	return Message{
		SID:             deref(rec.Sid),
		ConversationSID: deref(rec.ConversationSid),
		Author:          deref(rec.Author),
		Body:            deref(rec.Body),
		DateCreated:     rec.DateCreated,
	}
}

// bindingAddresses pulls address/proxy_address out of the SDK's untyped
// messaging_binding field, whatever concrete shape it decoded into.
func bindingAddresses(binding any) (address, proxy string) {
	raw, err := json.Marshal(binding)
	if err != nil {
		return "", ""
	}
	return gjson.GetBytes(raw, "address").String(), gjson.GetBytes(raw, "proxy_address").String()
}

func mapError(op string, err error) error {
	var restErr *twclient.TwilioRestError
	if errors.As(err, &restErr) {
		return &Error{
			Op:       op,
			Status:   restErr.Status,
			Code:     restErr.Code,
			Message:  restErr.Message,
			MoreInfo: restErr.MoreInfo,
		}
	}
	return &Error{Op: op, Message: err.Error()}
}

// parseRFC2822 parses the 2010 API's date format; nil if unparseable.
func parseRFC2822(s string) *time.Time {
	if s == "" {
		return nil
	}
	ts, err := time.Parse(time.RFC1123Z, s)
	if err != nil {
		return nil
	}
	return &ts
}

func deref(s *string) string {
	if s == nil {
		return ""
	}
	return *s
}
