package core

import "sync"

// Redacted is what a CredentialContext renders as anywhere it could leak:
// log lines, JSON, transcripts, %v formatting.
const Redacted = "[redacted]"

// CredentialContext is the ephemeral per-query credential bundle threaded
// through tool invocations. It is scoped to exactly one reasoning loop, never
// persisted, never shared across queries, and zeroed when the loop reaches a
// terminal state.
//
// Tokens are held as byte slices so Zero can actually wipe the backing
// memory instead of leaving interned strings behind.
type CredentialContext struct {
	mu       sync.Mutex
	tokens   map[string][]byte
	released bool
}

// NewCredentialContext copies the provided tokens into a fresh bundle. Empty
// values are dropped. A nil or empty map yields a usable empty bundle, so
// anonymous queries need no special casing.
func NewCredentialContext(tokens map[string]string) *CredentialContext {
	cc := &CredentialContext{tokens: make(map[string][]byte, len(tokens))}
	for name, value := range tokens {
		if value == "" {
			continue
		}
		cc.tokens[name] = []byte(value)
	}
	return cc
}

// Get returns the named token. The second return is false if the token is
// absent or the bundle was already released.
func (cc *CredentialContext) Get(name string) (string, bool) {
	cc.mu.Lock()
	defer cc.mu.Unlock()
	if cc.released {
		return "", false
	}
	v, ok := cc.tokens[name]
	if !ok {
		return "", false
	}
	return string(v), true
}

// Expose returns a copy of all tokens for injection into a single tool
// invocation frame. Callers must not retain the returned map beyond the
// lifetime of that frame.
func (cc *CredentialContext) Expose() map[string]string {
	cc.mu.Lock()
	defer cc.mu.Unlock()
	if cc.released || len(cc.tokens) == 0 {
		return nil
	}
	out := make(map[string]string, len(cc.tokens))
	for name, value := range cc.tokens {
		out[name] = string(value)
	}
	return out
}

// Zero wipes every token and marks the bundle released. Idempotent; called by
// the reasoning loop on every terminal path.
func (cc *CredentialContext) Zero() {
	cc.mu.Lock()
	defer cc.mu.Unlock()
	for name, value := range cc.tokens {
		for i := range value {
			value[i] = 0
		}
		delete(cc.tokens, name)
	}
	cc.released = true
}

// Released reports whether Zero has run.
func (cc *CredentialContext) Released() bool {
	cc.mu.Lock()
	defer cc.mu.Unlock()
	return cc.released
}

// String implements fmt.Stringer and always redacts.
func (cc *CredentialContext) String() string { return Redacted }

// MarshalJSON redacts the bundle so accidental serialization (history
// entries, debug dumps) can never persist a token.
func (cc *CredentialContext) MarshalJSON() ([]byte, error) {
	return []byte(`"` + Redacted + `"`), nil
}
