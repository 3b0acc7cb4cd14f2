// Package core defines the shared vocabulary of the gitscout engine: the
// conversation model consumed by language models, the tool descriptors and
// invocation request/result pairs exchanged with tool servers, the ephemeral
// per-query credential bundle, and the error taxonomy every layer reports
// against.
//
// Design rules:
//   - Types here carry no transport or vendor concerns; adapters in
//     toolserver/ and model/ translate to and from wire formats.
//   - Mutable state (Conversation, CredentialContext) is exclusively owned by
//     a single reasoning loop and never shared across queries.
//   - Errors are typed so callers can branch with errors.As/errors.Is instead
//     of matching strings.
package core
