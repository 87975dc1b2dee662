// Package sms sends outbound agent messages and keeps live dashboards in sync
// with them.
//
// A Dispatcher routes each send either through a conversation's channel (when
// a conversation SID is given) or as a plain SMS from the configured number.
// Identical (to, body) pairs inside the dedup window are suppressed and
// reported as duplicates rather than errors; the window only covers this
// process and this Dispatcher.
//
// After a successful send the Dispatcher publishes a newMessage event and, on
// the conversation path, a best-effort updateConversation event. Neither
// publishing step can fail the send.
package sms
