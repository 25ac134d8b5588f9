package gigachat

import (
	"context"
	"encoding/base64"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/huxuxuya/TGMaxSummarizer-sub000/internal/config"
	"github.com/huxuxuya/TGMaxSummarizer-sub000/internal/prompts"
)

func testProvider(t *testing.T, cfg config.ProviderConfig) *Provider {
	t.Helper()
	p, err := New(cfg, prompts.Default())
	require.NoError(t, err)
	return p
}

func chatCompletionJSON(content string) string {
	return `{"choices":[{"message":{"role":"assistant","content":` + mustJSON(content) + `}}]}`
}

func mustJSON(s string) string {
	b, _ := json.Marshal(s)
	return string(b)
}

func TestValidateConfig(t *testing.T) {
	tests := []struct {
		name   string
		apiKey string
		wantOK bool
	}{
		{"missing", "", false},
		{"placeholder", "your_gigachat_key", false},
		{"too short", "short", false},
		{"valid", "a-real-looking-key", true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			p := testProvider(t, config.ProviderConfig{APIKey: tt.apiKey})
			err := p.ValidateConfig()
			if tt.wantOK {
				assert.NoError(t, err)
			} else {
				assert.Error(t, err)
			}
		})
	}
}

func TestTokenIsCachedForTwentyFiveMinutes(t *testing.T) {
	var tokenCalls atomic.Int32
	authSrv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		tokenCalls.Add(1)
		assert.Equal(t, http.MethodPost, r.Method)
		assert.NotEmpty(t, r.Header.Get("RqUID"))
		require.NoError(t, r.ParseForm())
		assert.Equal(t, "GIGACHAT_API_PERS", r.PostForm.Get("scope"))
		w.Write([]byte(`{"access_token":"tok-1","expires_at":0}`))
	}))
	defer authSrv.Close()

	apiSrv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "Bearer tok-1", r.Header.Get("Authorization"))
		w.Write([]byte(chatCompletionJSON("ok")))
	}))
	defer apiSrv.Close()

	now := time.Now()
	p := testProvider(t, config.ProviderConfig{APIKey: "a-real-looking-key", BaseURL: apiSrv.URL})
	p.authURL = authSrv.URL
	p.now = func() time.Time { return now }

	ctx := context.Background()
	for i := 0; i < 3; i++ {
		_, err := p.GenerateResponse(ctx, "hello")
		require.NoError(t, err)
	}
	assert.Equal(t, int32(1), tokenCalls.Load())

	// Past the soft TTL the next call refreshes.
	now = now.Add(26 * time.Minute)
	_, err := p.GenerateResponse(ctx, "hello again")
	require.NoError(t, err)
	assert.Equal(t, int32(2), tokenCalls.Load())
}

func TestLongKeysAreBase64Unwrapped(t *testing.T) {
	credentials := "client-id:client-secret"
	wrapped := base64.StdEncoding.EncodeToString([]byte(strings.Repeat(credentials, 3)))
	require.Greater(t, len(wrapped), 50)

	var gotAuth string
	authSrv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		gotAuth = r.Header.Get("Authorization")
		w.Write([]byte(`{"access_token":"tok","expires_at":0}`))
	}))
	defer authSrv.Close()

	p := testProvider(t, config.ProviderConfig{APIKey: wrapped})
	p.authURL = authSrv.URL

	assert.True(t, p.IsAvailable(context.Background()))
	// The wrapped key is decoded before being re-encoded for Basic auth.
	expected := "Basic " + base64.StdEncoding.EncodeToString([]byte(strings.Repeat(credentials, 3)))
	assert.Equal(t, expected, gotAuth)
}

func TestShortKeysPassThroughUnmodified(t *testing.T) {
	key := "plain-short-api-key"

	var gotAuth string
	authSrv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		gotAuth = r.Header.Get("Authorization")
		w.Write([]byte(`{"access_token":"tok","expires_at":0}`))
	}))
	defer authSrv.Close()

	p := testProvider(t, config.ProviderConfig{APIKey: key})
	p.authURL = authSrv.URL

	assert.True(t, p.IsAvailable(context.Background()))
	assert.Equal(t, "Basic "+base64.StdEncoding.EncodeToString([]byte(key)), gotAuth)
}

func TestTokenEndpointFailureIsUnavailable(t *testing.T) {
	authSrv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, "unauthorized", http.StatusUnauthorized)
	}))
	defer authSrv.Close()

	p := testProvider(t, config.ProviderConfig{APIKey: "a-real-looking-key"})
	p.authURL = authSrv.URL

	assert.False(t, p.IsAvailable(context.Background()))
}
