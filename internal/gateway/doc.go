// Package gateway wires relaydesk together and serves it over HTTP.
//
// # Components
//
// New builds, in order:
//
//  1. the broadcast Registry (empty)
//  2. the conversation Cache over the provider
//  3. the sms Dispatcher, publishing through the Registry
//  4. the realtime Hub, whose Broadcast is then installed into the Registry
//
// In test mode the Hub is a no-op and the periodic cache refresher is not
// started.
//
// # Endpoints
//
//	GET    /health                              liveness
//	GET    /health/ready                        200 once the cache has loaded
//	GET    /api/conversations                   cached summaries
//	GET    /api/conversations/search?q=         search the cache
//	POST   /api/conversations                   start a conversation
//	POST   /api/conversations/{sid}/messages    send into a conversation
//	DELETE /api/conversations/{sid}             delete a conversation
//	POST   /api/sms                             direct SMS
//	POST   /webhooks/conversations              provider conversation events
//	POST   /webhooks/sms                        inbound direct SMS
//	GET    /ws                                  realtime event stream
//
// # Listeners
//
// The HTTP server listens on server.http_addr, or on the tailnet via tsnet
// when tailscale.enabled is set.
package gateway
