// Package auth provides tenant scoped authentication, sessions and
// authorization for a multi-tenant API: JWT issuance and verification,
// refresh credentials persisted through Bun, invite based onboarding,
// business and project roles, and a brute force guard.
//
// Sessions:
//   - Sessions composes TokenService, the Credentials repository and the
//     FailureGuard. Login issues an access/refresh pair and stores the
//     refresh token hash; Refresh returns a new access token while the
//     refresh credential is still stored; Logout deletes it.
//
// User lifecycle:
//   - Business signup creates an active owner. Every other user starts
//     pending through Onboarding.Invite and becomes active only by
//     consuming the single use invite token.
//   - UserStateMachine centralizes the transition graph (pending to active,
//     active to inactive, inactive to active), hooks and persistence.
//
// Authorization:
//   - Business capabilities are derived from the role in the access token
//     and checked with Can without a database round trip.
//   - Project roles live in project_memberships. Authorizer keeps at least
//     one admin on every project that has members.
//
// Activity sinks:
//   - ActivitySink is a light-weight audit emitter for login, session,
//     lifecycle and membership events. Sinks run best-effort (errors are
//     logged). KafkaActivitySink publishes them to a topic; the activitymap
//     package provides the normalized actor/verb/object encoding.
package auth
