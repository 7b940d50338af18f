// Package model defines the normalized request/response contract between the
// execution state machine and reasoning backends, plus the Model interface
// every provider adapter implements. Concrete adapters (anthropic, openai)
// live in subpackages and translate their native wire shapes - message roles,
// tool-call argument encodings, result matching - into this normalized form so
// the runner never branches per provider.
package model
