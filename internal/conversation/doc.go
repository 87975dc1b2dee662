// Package conversation keeps an approximately fresh, searchable snapshot of
// every provider conversation.
//
// # Cache
//
// Cache maps each conversation to a denormalized Summary: contact details
// parsed from the conversation's JSON attributes, the first participant's
// phone number, and the newest message.
//
//	cache := conversation.NewCache(prov, logger, conversation.WithTTL(time.Minute))
//	cache.Start(ctx)   // refresh now, then every TTL
//	defer cache.Stop()
//
//	if err := cache.UpdateCache(ctx); err != nil { ... } // ad hoc, TTL-gated
//	hits := cache.SearchConversations("jane")
//
// # Refresh policy
//
// UpdateCache is a no-op while the last successful refresh is at most one TTL
// old. Otherwise it lists conversations and fetches participants and the
// latest message for each one concurrently. The snapshot is replaced only if
// every step succeeds; any failure leaves both the snapshot and the refresh
// timestamp untouched, so the next call retries immediately.
//
// Attribute blobs that are not valid JSON fail the whole refresh. An empty
// blob is treated as {}.
//
// Overlapping UpdateCache calls share one in-flight refresh.
package conversation
