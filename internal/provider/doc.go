// Package provider defines the communications-provider surface relaydesk
// depends on and ships a Twilio-backed implementation of it.
//
// # Overview
//
// The rest of the server only sees the Provider interface:
//
//   - ListConversations / FetchConversation / CreateConversation / DeleteConversation
//   - ListParticipants / AddSMSParticipant
//   - ListMessages (limit + order)
//   - CreateMessage (conversation channel) / CreateDirectMessage (plain SMS)
//
// Provider calls are unreliable; callers must tolerate errors and partial data.
// Failed REST calls surface as *Error, which carries the provider error code
// and documentation link for structured logging.
//
// # Testing
//
// MockProvider is an in-memory implementation with call counters and
// injectable failures, in the spirit of store.MockStore.
package provider
