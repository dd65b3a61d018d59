package invalidation

import "testing"

func TestInvalidationRegistryMatchPriorityOrder(t *testing.T) {
	reg := NewInvalidationRegistry()

	low, _ := NewInvalidationRule("low", "order.#", 1, "order:{order_id}")
	high, _ := NewInvalidationRule("high", "order.created", 10, "order:{order_id}:created")
	reg.Register(low)
	reg.Register(high)

	matches := reg.Match("order.created")
	if len(matches) != 2 {
		t.Fatalf("got %d matches, want 2", len(matches))
	}
	if matches[0].Name != "high" {
		t.Errorf("expected higher-priority rule first, got %q", matches[0].Name)
	}
}

func TestInvalidationRegistryResolveEventDedupesTags(t *testing.T) {
	reg := NewInvalidationRegistry()
	a, _ := NewInvalidationRule("a", "order.created", 5, "order:{order_id}")
	b, _ := NewInvalidationRule("b", "order.#", 1, "order:{order_id}")
	reg.Register(a)
	reg.Register(b)

	tags, rules, err := reg.ResolveEvent("order.created", map[string]string{"order_id": "7"})
	if err != nil {
		t.Fatalf("ResolveEvent failed: %v", err)
	}
	if len(tags) != 1 || tags[0] != "order:7" {
		t.Errorf("got tags %v, want deduped [order:7]", tags)
	}
	if len(rules) != 2 {
		t.Errorf("got %d matched rules, want 2", len(rules))
	}
}

func TestInvalidationRegistryNoMatch(t *testing.T) {
	reg := NewInvalidationRegistry()
	rule, _ := NewInvalidationRule("orders", "order.created", 1, "order:{order_id}")
	reg.Register(rule)

	tags, rules, err := reg.ResolveEvent("product.created", nil)
	if err != nil {
		t.Fatalf("ResolveEvent failed: %v", err)
	}
	if len(tags) != 0 || len(rules) != 0 {
		t.Errorf("expected no tags/rules for unmatched event, got tags=%v rules=%v", tags, rules)
	}
}

func TestInvalidationRegistryUnregister(t *testing.T) {
	reg := NewInvalidationRegistry()
	rule, _ := NewInvalidationRule("orders", "order.created", 1, "order:{order_id}")
	reg.Register(rule)
	reg.Unregister("orders")

	if len(reg.Match("order.created")) != 0 {
		t.Error("expected no matches after unregister")
	}
}

func TestInvalidationRegistryResolveEventPropagatesTemplateError(t *testing.T) {
	reg := NewInvalidationRegistry()
	rule, _ := NewInvalidationRule("orders", "order.created", 1, "order:{order_id}")
	reg.Register(rule)

	if _, _, err := reg.ResolveEvent("order.created", map[string]string{}); err == nil {
		t.Error("expected error when a required field is missing")
	}
}
