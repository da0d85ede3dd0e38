// Package conversation turns inbound chat messages into assistant replies.
//
// # Router
//
// The Router handles one message at a time per session:
//
//	r := conversation.New(store, generator, cache, conversation.Config{}, logger)
//	reply := r.Process(ctx, conversation.Exchange{SessionID: id, UserID: uid, Content: text})
//
// Process never fails. Generator failures become apology replies and store
// failures are logged, so the caller always has an assistant message to
// broadcast.
//
// # Intent Classification
//
// IntentRules is an ordered table of keyword rules. The first rule with a
// substring hit in the lower-cased text wins, so generation beats
// clarification, which beats validation. Unmatched text is a general
// question; short unmatched small talk gets a canned reply without calling
// the generator.
//
// # Context
//
// Each session has a SessionContext holding its most recent message
// summaries and current scenarios. It is loaded from the store on first use
// and kept in a ContextCache until cleared. MemoryCache serves a single
// process; RedisCache shares contexts between processes.
//
// # Persistence
//
// Each exchange produces exactly two messages: the user message (unless the
// caller already stored it and passes its id) and the assistant reply, whose
// ParentID names the user message. Generated scenarios are stored as draft
// version-1 records.
package conversation
