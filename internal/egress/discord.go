package egress

import (
	"context"
	"fmt"
	"net/http"
	"strings"
	"time"

	"github.com/go-resty/resty/v2"
	"github.com/rs/zerolog"
	"github.com/sony/gobreaker"
)

const defaultAPIBase = "https://discord.com/api/v10"

type discordEmbed struct {
	Title       string            `json:"title,omitempty"`
	Description string            `json:"description,omitempty"`
	Color       int               `json:"color,omitempty"`
	Fields      []Field           `json:"fields,omitempty"`
	Thumbnail   *discordThumbnail `json:"thumbnail,omitempty"`
}

type discordThumbnail struct {
	URL string `json:"url"`
}

type discordMessage struct {
	Content string         `json:"content,omitempty"`
	Embeds  []discordEmbed `json:"embeds"`
}

// DiscordPoster posts alerts through the Discord bot REST API.
type DiscordPoster struct {
	http    *resty.Client
	breaker *gobreaker.CircuitBreaker
	log     zerolog.Logger
}

// NewDiscordPoster builds a poster authenticated with the given bot token.
// apiBase is overridable for tests; empty means the real API.
func NewDiscordPoster(botToken, apiBase string, log zerolog.Logger) *DiscordPoster {
	if apiBase == "" {
		apiBase = defaultAPIBase
	}
	rc := resty.New().
		SetBaseURL(apiBase).
		SetTimeout(10 * time.Second).
		SetHeader("Authorization", "Bot "+botToken).
		SetHeader("Content-Type", "application/json").
		SetRetryCount(3).
		SetRetryWaitTime(500 * time.Millisecond).
		SetRetryMaxWaitTime(5 * time.Second).
		AddRetryCondition(func(r *resty.Response, err error) bool {
			if err != nil {
				return true
			}
			return r.StatusCode() == http.StatusTooManyRequests ||
				r.StatusCode() >= http.StatusInternalServerError
		})
	return &DiscordPoster{
		http: rc,
		breaker: gobreaker.NewCircuitBreaker(gobreaker.Settings{
			Name:        "discord-egress",
			MaxRequests: 1,
			Interval:    time.Minute,
			Timeout:     30 * time.Second,
			ReadyToTrip: func(counts gobreaker.Counts) bool {
				return counts.ConsecutiveFailures >= 3
			},
		}),
		log: log.With().Str("component", "egress").Logger(),
	}
}

// Post sends one embed message to a channel. Mentions become role pings in
// the message content.
func (p *DiscordPoster) Post(ctx context.Context, channelID string, payload Payload) error {
	msg := discordMessage{
		Content: renderMentions(payload.Mentions),
		Embeds: []discordEmbed{{
			Title:       payload.Title,
			Description: payload.Description,
			Color:       payload.Color,
			Fields:      payload.Fields,
		}},
	}
	if payload.ThumbnailURL != "" {
		msg.Embeds[0].Thumbnail = &discordThumbnail{URL: payload.ThumbnailURL}
	}

	_, err := p.breaker.Execute(func() (any, error) {
		resp, err := p.http.R().
			SetContext(ctx).
			SetBody(msg).
			Post(fmt.Sprintf("/channels/%s/messages", channelID))
		if err != nil {
			return nil, fmt.Errorf("failed to post message: %w", err)
		}
		switch resp.StatusCode() {
		case http.StatusBadRequest, http.StatusUnauthorized,
			http.StatusForbidden, http.StatusNotFound:
			return nil, &PermanentError{Status: resp.StatusCode(), Reason: string(resp.Body())}
		}
		if resp.IsError() {
			return nil, fmt.Errorf("failed to post message: status %d", resp.StatusCode())
		}
		return nil, nil
	})
	if err != nil {
		if IsPermanent(err) {
			return err
		}
		return fmt.Errorf("discord delivery failed: %w", err)
	}
	return nil
}

func renderMentions(roleIDs []string) string {
	if len(roleIDs) == 0 {
		return ""
	}
	parts := make([]string, 0, len(roleIDs))
	for _, id := range roleIDs {
		parts = append(parts, "<@&"+id+">")
	}
	return strings.Join(parts, " ")
}
