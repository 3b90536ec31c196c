// Package conversation implements the support chat core.
//
// # Overview
//
// A conversation is a thread between one customer and at most one agent. It
// moves through three states:
//
//	waiting --claim / agent reply--> active --close--> closed
//	   ^                                |
//	   +-------- status update ---------+
//
// Closed is terminal. A customer has at most one waiting or active
// conversation at a time; writing after a close starts a fresh one.
//
// # Components
//
//   - Registry: find-or-create of the customer's open conversation, and the
//     single place where status and assignment change
//   - Messages: append, paged listing (which marks foreign messages read), mark-read
//   - Coordinator: claim, close and explicit status updates
//   - Aggregator: unread counts, the dashboard and conversation listings
//
// Service bundles the four behind one facade for the transports:
//
//	svc := conversation.New(store, conversation.Options{Logger: logger})
//	res, err := svc.SendMessage(ctx, conversation.AppendCommand{...})
//
// # Consistency
//
// Every mutation runs under a per-conversation lock inside one immediate
// store transaction. The message row, the conversation row, any lifecycle
// notice and the outbox events commit together, so observers never see a
// status change without its notice or a message without its event.
package conversation
