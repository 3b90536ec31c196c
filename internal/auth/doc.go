// Package auth authenticates support-desk callers.
//
// Every caller presents an HS256 JWT whose "sub" claim names a principal in
// the principal directory. The directory record supplies the role:
//
//   - customer: sees and writes only their own conversations
//   - agent, admin: elevated, may see and manage any conversation
//
// Disabled principals are rejected even with a valid token.
//
// # HTTP
//
//	mux.Handle("/api/", auth.HTTPAuthMiddleware(principals, verifier)(api))
//	mux.Handle("/api/admin/", auth.HTTPAuthMiddleware(principals, verifier)(auth.RequireElevatedHTTP()(admin)))
//
// # gRPC
//
// UnaryInterceptor and StreamInterceptor read "authorization: Bearer <jwt>"
// from metadata. The gRPC health service is exempt.
//
// Handlers recover the identity with FromContext; AuthContext.Principal
// converts it for the conversation core.
package auth
