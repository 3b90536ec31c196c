// Package gateway serves the support-desk conversation core over HTTP and gRPC.
//
// # Overview
//
// The Gateway owns every long-lived component: the SQLite store, the
// conversation service, the outbox dispatcher with its sinks, the gRPC
// server and the HTTP server. New wires them from a config.Config; Run
// listens and blocks; Shutdown stops the servers, delivers whatever the
// outbox still holds, and closes the store.
//
// # HTTP API
//
// All /api routes require a bearer JWT whose subject is an active principal.
// Routes under /api/admin additionally require the agent or admin role.
//
//   - GET  /api/chat/conversation - the customer's open conversation, created on first contact
//   - GET  /api/chat/conversations - own history (customers) or all conversations (agents)
//   - GET  /api/chat/conversations/{id} - one conversation with the caller's unread count
//   - GET  /api/chat/conversations/{id}/messages - a page of messages; marks them read
//   - GET  /api/chat/conversations/{id}/events - SSE stream of the conversation's events
//   - POST /api/chat/conversations/{id}/read - mark everything read
//   - POST /api/chat/conversations/{id}/close - close
//   - POST /api/chat/messages - send
//   - GET  /api/admin/chat/conversations - listing with status filter
//   - POST /api/admin/chat/conversations/{id}/claim - claim
//   - POST /api/admin/chat/conversations/{id}/status - set status
//   - GET  /api/admin/chat/stats - dashboard counters
//   - GET  /api/admin/chat/events - SSE stream of every conversation's events
//   - GET  /health, /health/ready - liveness and database readiness
//
// Errors are JSON objects {"error": "..."}. Unknown conversations and
// conversations the caller may not see both answer 404.
//
// # gRPC
//
// support.v1.ChatService is registered from a hand-written descriptor.
// Every method takes and returns a google.protobuf.Struct shaped like the
// matching HTTP JSON body, so clients need no generated stubs:
//
//	in, _ := structpb.NewStruct(map[string]any{"conversation_id": id})
//	out := new(structpb.Struct)
//	err := conn.Invoke(ctx, "/support.v1.ChatService/GetConversation", in, out)
//
// The standard grpc.health.v1 service is also registered and needs no token.
package gateway
