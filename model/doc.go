// Package model defines the provider-agnostic contract for language model
// backends and concrete helpers used by the reasoning loop.
//
// Core goals:
//   - Unify streaming + non-streaming generation behind a single interface
//   - Represent model output as a lazy, finite, non-restartable chunk stream
//     terminating in either a final answer or tool-call directives
//   - Keep per-call timeout/retry policy explicit (ReliableClient) and
//     distinguish timeouts (retried) from malformed output (never retried)
//   - Facilitate deterministic mocking for tests (MockClient)
//
// Providers (Anthropic, Bedrock, OpenAI) implement the Client interface from
// this package so the loop stays decoupled from vendor SDKs.
package model
