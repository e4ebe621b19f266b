package provider

import "testing"

func TestStaticRegistryResolve(t *testing.T) {
	reg := NewStaticRegistry([]Handle{
		{ProviderID: "ark", ModelID: "doubao-pro"},
		{ProviderID: "ark", ModelID: "doubao-lite"},
	}, map[string]string{"ark": "secret"})

	h, ok := reg.Resolve("doubao-lite")
	if !ok {
		t.Fatal("expected doubao-lite to resolve")
	}
	if h.ProviderID != "ark" {
		t.Fatalf("unexpected provider: %s", h.ProviderID)
	}

	if _, ok := reg.Resolve("missing"); ok {
		t.Fatal("unknown model must not resolve")
	}
}

func TestStaticRegistryDefaultIsFirst(t *testing.T) {
	reg := NewStaticRegistry([]Handle{
		{ProviderID: "a", ModelID: "m1"},
		{ProviderID: "b", ModelID: "m2"},
	}, nil)

	h, ok := reg.Default()
	if !ok || h.ModelID != "m1" {
		t.Fatalf("expected m1 as default, got %+v ok=%v", h, ok)
	}
}

func TestStaticRegistryEmptyDefault(t *testing.T) {
	reg := NewStaticRegistry(nil, nil)
	if _, ok := reg.Default(); ok {
		t.Fatal("empty registry has no default")
	}
}

func TestStaticRegistryDuplicateModelFirstWins(t *testing.T) {
	reg := NewStaticRegistry([]Handle{
		{ProviderID: "a", ModelID: "shared"},
		{ProviderID: "b", ModelID: "shared"},
	}, nil)

	h, _ := reg.Resolve("shared")
	if h.ProviderID != "a" {
		t.Fatalf("expected first registration to win, got %s", h.ProviderID)
	}
	if len(reg.List()) != 1 {
		t.Fatalf("duplicate ids must collapse, got %d handles", len(reg.List()))
	}
}

func TestStaticRegistryAPIKey(t *testing.T) {
	reg := NewStaticRegistry(nil, map[string]string{"ark": "secret"})

	key, ok := reg.APIKey("ark")
	if !ok || key != "secret" {
		t.Fatalf("unexpected key lookup: %q ok=%v", key, ok)
	}
	if _, ok := reg.APIKey("other"); ok {
		t.Fatal("unknown provider must not return a key")
	}
}
