package webhook

import "testing"

func TestSubstitute(t *testing.T) {
	vars := map[string]string{"room_name": "outbound-1234", "reason": "disconnected"}

	cases := []struct {
		in, want string
	}{
		{`{"room":"{{room_name}}"}`, `{"room":"outbound-1234"}`},
		{"{{room_name}}/{{room_name}}", "outbound-1234/outbound-1234"},
		{"keep {{unknown}} as is", "keep {{unknown}} as is"},
		{"unterminated {{room_name", "unterminated {{room_name"},
		{"", ""},
	}
	for _, tc := range cases {
		if got := Substitute(tc.in, vars); got != tc.want {
			t.Fatalf("Substitute(%q) = %q, want %q", tc.in, got, tc.want)
		}
	}
}

func TestSubstitute_NoRecursion(t *testing.T) {
	got := Substitute("{{a}}", map[string]string{"a": "{{b}}", "b": "x"})
	if got != "{{b}}" {
		t.Fatalf("expected single pass substitution, got %q", got)
	}
}

func TestResolvePathAndAssign(t *testing.T) {
	resp := map[string]any{
		"customer": map[string]any{
			"name":   "Ada",
			"orders": []any{map[string]any{"id": float64(7)}},
			"vip":    true,
		},
	}

	got := Assign(resp, []Assignment{
		{Path: "customer.name", Variable: "name"},
		{Path: "customer.orders.0.id", Variable: "last_order"},
		{Path: "customer.vip", Variable: "vip"},
		{Path: "customer.missing", Variable: "missing"},
		{Path: "customer.orders.5.id", Variable: "oob"},
	})

	if got["name"] != "Ada" || got["last_order"] != "7" || got["vip"] != "true" {
		t.Fatalf("unexpected assignments: %v", got)
	}
	if _, ok := got["missing"]; ok {
		t.Fatalf("missing paths must be skipped")
	}
	if _, ok := got["oob"]; ok {
		t.Fatalf("out of range index must be skipped")
	}
}

func TestRenderBody_FallsBackToVars(t *testing.T) {
	vars := map[string]string{"session_id": "s1"}

	if m, ok := RenderBody("", vars).(map[string]string); !ok || m["session_id"] != "s1" {
		t.Fatalf("empty template should send vars")
	}
	if m, ok := RenderBody("{not json {{session_id}}", vars).(map[string]string); !ok || m["session_id"] != "s1" {
		t.Fatalf("invalid template should send vars")
	}
	body, ok := RenderBody(`{"id":"{{session_id}}"}`, vars).(map[string]any)
	if !ok || body["id"] != "s1" {
		t.Fatalf("unexpected rendered body: %v", body)
	}
}
