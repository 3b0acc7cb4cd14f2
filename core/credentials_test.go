package core

import (
	"encoding/json"
	"fmt"
	"strings"
	"testing"
)

func TestCredentialContext_GetAndZero(t *testing.T) {
	cc := NewCredentialContext(map[string]string{"github_token": "ghp_secret", "empty": ""})

	if v, ok := cc.Get("github_token"); !ok || v != "ghp_secret" {
		t.Fatalf("Get returned %q, %v", v, ok)
	}
	if _, ok := cc.Get("empty"); ok {
		t.Error("empty tokens should be dropped at construction")
	}

	cc.Zero()
	if !cc.Released() {
		t.Error("Released should report true after Zero")
	}
	if _, ok := cc.Get("github_token"); ok {
		t.Error("tokens must be unavailable after Zero")
	}
	if m := cc.Expose(); m != nil {
		t.Errorf("Expose after Zero returned %v", m)
	}
	cc.Zero() // idempotent
}

func TestCredentialContext_NeverRendersTokens(t *testing.T) {
	cc := NewCredentialContext(map[string]string{"github_token": "ghp_secret"})

	if s := fmt.Sprintf("creds=%v", cc); strings.Contains(s, "ghp_secret") {
		t.Errorf("token leaked through formatting: %s", s)
	}
	b, err := json.Marshal(cc)
	if err != nil {
		t.Fatalf("marshal: %v", err)
	}
	if strings.Contains(string(b), "ghp_secret") {
		t.Errorf("token leaked through JSON: %s", b)
	}
	if string(b) != `"`+Redacted+`"` {
		t.Errorf("unexpected JSON form: %s", b)
	}
}
