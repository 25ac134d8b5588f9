package providers

import (
	"context"
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"

	"github.com/huxuxuya/TGMaxSummarizer-sub000/internal/config"
)

func selectorWith(t *testing.T, fallback []string, stubs map[string]*stubProvider) *Selector {
	t.Helper()
	reg := NewRegistry()
	cfgs := make(map[string]config.ProviderConfig, len(stubs))
	for name, stub := range stubs {
		reg.Register(name, stubConstructor(stub))
		cfgs[name] = config.ProviderConfig{}
	}
	return NewSelector(reg, cfgs, fallback)
}

func TestSelectBestPreferredWins(t *testing.T) {
	sel := selectorWith(t, []string{"a", "b"}, map[string]*stubProvider{
		"a": {name: "a", available: true},
		"b": {name: "b", available: true},
	})

	// The preferred provider wins even when it is last in the fallback order.
	assert.Equal(t, "b", sel.SelectBest(context.Background(), "b"))
}

func TestSelectBestFallsBackInOrder(t *testing.T) {
	sel := selectorWith(t, []string{"a", "b", "c"}, map[string]*stubProvider{
		"a": {name: "a", available: false},
		"b": {name: "b", available: true},
		"c": {name: "c", available: true},
	})

	assert.Equal(t, "b", sel.SelectBest(context.Background(), "a"))
}

func TestSelectBestNoneAvailable(t *testing.T) {
	sel := selectorWith(t, []string{"a", "b"}, map[string]*stubProvider{
		"a": {name: "a", available: false},
		"b": {name: "b", available: false},
	})

	assert.Equal(t, "", sel.SelectBest(context.Background(), ""))
}

func TestSelectBestSkipsInvalidConfig(t *testing.T) {
	sel := selectorWith(t, []string{"a", "b"}, map[string]*stubProvider{
		"a": {name: "a", available: true, cfgErr: errors.New("no key")},
		"b": {name: "b", available: true},
	})

	assert.Equal(t, "b", sel.SelectBest(context.Background(), ""))
}

func TestSelectBestUnlistedProvidersProbeAfterFallback(t *testing.T) {
	sel := selectorWith(t, []string{"a"}, map[string]*stubProvider{
		"a":     {name: "a", available: false},
		"extra": {name: "extra", available: true},
	})

	assert.Equal(t, "extra", sel.SelectBest(context.Background(), ""))
}

func TestTestAllReportsEveryProvider(t *testing.T) {
	sel := selectorWith(t, []string{"a", "b", "c"}, map[string]*stubProvider{
		"a": {name: "a", available: true},
		"b": {name: "b", available: false},
		"c": {name: "c", available: true},
	})

	results := sel.TestAll(context.Background())
	assert.Equal(t, map[string]bool{"a": true, "b": false, "c": true}, results)
}
