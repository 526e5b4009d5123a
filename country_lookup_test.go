package flagcore

import "testing"

func TestCountryLookupDisabledNeverReady(t *testing.T) {
	c := newCountryLookup(IPCountryOptions{Disabled: true})
	if c.isReady() {
		t.Fatal("expected a disabled lookup to never become ready")
	}
	if got, ok := c.lookupIP("8.8.8.8"); ok || got != "" {
		t.Fatalf("expected disabled lookup to resolve nothing, got %q, %v", got, ok)
	}
}

func TestCountryLookupEmptyIPResolvesNothing(t *testing.T) {
	c := newCountryLookup(IPCountryOptions{})
	if got, ok := c.lookupIP(""); ok || got != "" {
		t.Fatalf("expected empty ip to resolve nothing, got %q, %v", got, ok)
	}
}

func TestCountryLookupSyncLoadIsReadyImmediately(t *testing.T) {
	c := newCountryLookup(IPCountryOptions{})
	if !c.isReady() {
		t.Fatal("expected non-lazy load to block newCountryLookup until ready")
	}
}

func TestCountryLookupLazyLoadEnsureLoadedBlocksUntilReady(t *testing.T) {
	c := newCountryLookup(IPCountryOptions{LazyLoad: true, EnsureLoaded: true})
	if _, ok := c.lookupIP("8.8.8.8"); !ok {
		t.Fatal("expected EnsureLoaded to wait for the background load before resolving")
	}
}
