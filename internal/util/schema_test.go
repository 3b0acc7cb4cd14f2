package util

import (
	"reflect"
	"sort"
	"testing"
)

func TestSchemaFromStruct(t *testing.T) {
	type args struct {
		Repository string   `json:"repository" description:"owner/name"`
		Limit      int      `json:"limit,omitempty"`
		Branches   []string `json:"branches,omitempty"`
		Internal   string   `json:"-"`
		hidden     bool
	}
	_ = args{hidden: false, Internal: ""}

	schema := SchemaFromStruct(args{})

	if schema["type"] != "object" {
		t.Fatalf("expected object schema, got %v", schema["type"])
	}

	props, ok := schema["properties"].(map[string]any)
	if !ok {
		t.Fatalf("expected properties map, got %T", schema["properties"])
	}
	if len(props) != 3 {
		t.Fatalf("expected 3 properties, got %d: %v", len(props), props)
	}
	if _, exists := props["Internal"]; exists {
		t.Error("json:\"-\" fields must be skipped")
	}

	repo := props["repository"].(map[string]any)
	if repo["type"] != "string" {
		t.Errorf("repository type = %v, want string", repo["type"])
	}
	if repo["description"] != "owner/name" {
		t.Errorf("repository description = %v", repo["description"])
	}
	if props["limit"].(map[string]any)["type"] != "integer" {
		t.Error("limit must map to integer")
	}
	if props["branches"].(map[string]any)["type"] != "array" {
		t.Error("branches must map to array")
	}

	required := schema["required"].([]string)
	sort.Strings(required)
	if !reflect.DeepEqual(required, []string{"repository"}) {
		t.Errorf("required = %v, want [repository]", required)
	}
}

func TestSchemaFromStructNonStruct(t *testing.T) {
	schema := SchemaFromStruct(42)
	if schema["type"] != "object" {
		t.Fatalf("expected fallback object schema, got %v", schema)
	}
}

func TestNewIDUnique(t *testing.T) {
	a, b := NewID(), NewID()
	if a == "" || a == b {
		t.Fatalf("ids must be non-empty and unique: %q %q", a, b)
	}
}

func TestNewCallIDAlphabet(t *testing.T) {
	id := NewCallID()
	if len(id) == 0 {
		t.Fatal("empty call id")
	}
	for _, r := range id {
		if (r < 'a' || r > 'z') && (r < '2' || r > '9') {
			t.Fatalf("unexpected rune %q in call id %q", r, id)
		}
	}
}
