package providers

import (
	"context"
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/huxuxuya/TGMaxSummarizer-sub000/internal/config"
)

type stubProvider struct {
	name      string
	available bool
	cfgErr    error
	summary   string
	response  string
	genErr    error
}

var _ Provider = (*stubProvider)(nil)

func (s *stubProvider) Name() string                     { return s.name }
func (s *stubProvider) IsAvailable(context.Context) bool { return s.available }
func (s *stubProvider) ValidateConfig() error            { return s.cfgErr }
func (s *stubProvider) Info() Info                       { return Info{Name: s.name} }

func (s *stubProvider) SummarizeChat(_ context.Context, _ []ChatMessage, _ *ChatContext) (string, error) {
	return s.summary, nil
}
func (s *stubProvider) GenerateResponse(_ context.Context, _ string) (string, error) {
	return s.response, s.genErr
}

func stubConstructor(p *stubProvider) Constructor {
	return func(config.ProviderConfig) (Provider, error) {
		return p, nil
	}
}

func TestRegistryCreateUnknownReturnsNil(t *testing.T) {
	reg := NewRegistry()
	assert.Nil(t, reg.Create("nope", config.ProviderConfig{}))
}

func TestRegistryCreate(t *testing.T) {
	reg := NewRegistry()
	reg.Register("stub", stubConstructor(&stubProvider{name: "stub"}))

	p := reg.Create("stub", config.ProviderConfig{})
	require.NotNil(t, p)
	assert.Equal(t, "stub", p.Name())
}

func TestRegistryCreateConstructorFailure(t *testing.T) {
	reg := NewRegistry()
	reg.Register("broken", func(config.ProviderConfig) (Provider, error) {
		return nil, errors.New("boom")
	})
	assert.Nil(t, reg.Create("broken", config.ProviderConfig{}))
}

func TestRegistryIgnoresNilConstructor(t *testing.T) {
	reg := NewRegistry()
	reg.Register("nil", nil)
	assert.False(t, reg.Has("nil"))
}

func TestRegistryNamesSorted(t *testing.T) {
	reg := NewRegistry()
	reg.Register("zeta", stubConstructor(&stubProvider{name: "zeta"}))
	reg.Register("alpha", stubConstructor(&stubProvider{name: "alpha"}))
	reg.Register("mid", stubConstructor(&stubProvider{name: "mid"}))

	assert.Equal(t, []string{"alpha", "mid", "zeta"}, reg.Names())
}

func TestInitializeFailsClosed(t *testing.T) {
	ctx := context.Background()

	assert.False(t, Initialize(ctx, &stubProvider{name: "bad", cfgErr: errors.New("no key")}))
	assert.False(t, Initialize(ctx, &stubProvider{name: "down", available: false}))
	assert.True(t, Initialize(ctx, &stubProvider{name: "up", available: true}))
}
