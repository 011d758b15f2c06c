// Package egress is the chat delivery boundary. The router hands it fully
// rendered payloads; implementations own transport, retries, and error
// classification.
package egress

import (
	"context"
	"errors"
	"fmt"
)

// Field is one embed field.
type Field struct {
	Name   string `json:"name"`
	Value  string `json:"value"`
	Inline bool   `json:"inline,omitempty"`
}

// Payload is a rendered alert, platform-agnostic.
type Payload struct {
	Title        string
	Description  string
	Color        int
	Fields       []Field
	ThumbnailURL string
	// Mentions are role ids to ping alongside the embed.
	Mentions []string
}

// Poster delivers a payload to one channel.
type Poster interface {
	Post(ctx context.Context, channelID string, p Payload) error
}

// PermanentError marks failures that retrying cannot fix: bad channel, bad
// credentials, revoked access. The router drops the channel for the rest of
// the tick.
type PermanentError struct {
	Status int
	Reason string
}

func (e *PermanentError) Error() string {
	return fmt.Sprintf("permanent egress failure (status %d): %s", e.Status, e.Reason)
}

// IsPermanent reports whether err is a PermanentError.
func IsPermanent(err error) bool {
	var pe *PermanentError
	return errors.As(err, &pe)
}
