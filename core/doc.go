// Package core provides the foundational domain types shared across taskmesh. It
// defines:
//
//   - Jobs (units of work with a lifecycle status and retry bookkeeping)
//   - Agents (worker identities bound to a reasoning backend)
//   - Content / Parts (role-based transcript segments exchanged with backends)
//
// The package intentionally keeps implementation concerns (persistence, queue
// transport, execution) out of scope; those live in store, queue, runner and
// the process packages, all of which depend on core and never the reverse.
package core
