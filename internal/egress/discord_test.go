package egress

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestPostSendsEmbedWithMentions(t *testing.T) {
	var got discordMessage
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/channels/234567890123456789/messages", r.URL.Path)
		assert.Equal(t, "Bot secret-token", r.Header.Get("Authorization"))
		require.NoError(t, json.NewDecoder(r.Body).Decode(&got))
		w.WriteHeader(http.StatusOK)
	}))
	defer srv.Close()

	p := NewDiscordPoster("secret-token", srv.URL, zerolog.Nop())
	err := p.Post(context.Background(), "234567890123456789", Payload{
		Title:        "🥇 gold dump",
		Description:  "Rune dagger fell 30%",
		Color:        0xE74C3C,
		Fields:       []Field{{Name: "Buy", Value: "2,100 gp", Inline: true}},
		ThumbnailURL: "https://oldschool.runescape.wiki/images/x.png",
		Mentions:     []string{"345678901234567890", "456789012345678901"},
	})
	require.NoError(t, err)

	assert.Equal(t, "<@&345678901234567890> <@&456789012345678901>", got.Content)
	require.Len(t, got.Embeds, 1)
	assert.Equal(t, "🥇 gold dump", got.Embeds[0].Title)
	require.NotNil(t, got.Embeds[0].Thumbnail)
	assert.Equal(t, "https://oldschool.runescape.wiki/images/x.png", got.Embeds[0].Thumbnail.URL)
}

func TestPostClassifiesPermanentErrors(t *testing.T) {
	var calls atomic.Int64
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		calls.Add(1)
		http.Error(w, "missing access", http.StatusForbidden)
	}))
	defer srv.Close()

	p := NewDiscordPoster("t", srv.URL, zerolog.Nop())
	err := p.Post(context.Background(), "234567890123456789", Payload{Title: "x"})
	require.Error(t, err)
	assert.True(t, IsPermanent(err))
	assert.Equal(t, int64(1), calls.Load(), "permanent failures are not retried")
}

func TestPostRetriesTransientThenSucceeds(t *testing.T) {
	var calls atomic.Int64
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if calls.Add(1) < 3 {
			http.Error(w, "upstream hiccup", http.StatusBadGateway)
			return
		}
		w.WriteHeader(http.StatusOK)
	}))
	defer srv.Close()

	p := NewDiscordPoster("t", srv.URL, zerolog.Nop())
	err := p.Post(context.Background(), "234567890123456789", Payload{Title: "x"})
	require.NoError(t, err)
	assert.Equal(t, int64(3), calls.Load())
}

func TestRenderMentionsEmpty(t *testing.T) {
	assert.Empty(t, renderMentions(nil))
}
