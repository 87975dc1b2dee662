// Package broadcast holds the late-bound broadcast function and the event
// payloads pushed to connected dashboards.
//
// The realtime hub installs its Broadcast method into a Registry at startup.
// Components created before the hub (or that should not import it) publish
// through the Registry instead:
//
//	reg := broadcast.NewRegistry()
//	reg.Set(hub.Broadcast)
//	reg.Publish(broadcast.NewDeleteConversation("CH123"))
//
// Payload JSON shapes are consumed by the browser client and must not change:
//
//	{type:"newMessage", conversationSid, messageSid, author, body, dateCreated}
//	{type:"updateConversation", conversationSid, friendlyName, lastMessage, lastMessageTime, attributes}
//	{type:"deleteConversation", conversationSid}
package broadcast
