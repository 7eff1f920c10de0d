// Package email delivers rendered HTML messages.
package email

import (
	"context"
	"errors"
)

var ErrNoRecipients = errors.New("email: no recipients")

type Message struct {
	To       []string
	Subject  string
	HTMLBody string
	TextBody string
}

type Provider interface {
	Name() string
	Send(ctx context.Context, msg Message) error
}

// NoOpProvider drops every message. It is used when no mail transport is configured.
type NoOpProvider struct{}

func (p *NoOpProvider) Name() string { return "noop" }

func (p *NoOpProvider) Send(ctx context.Context, msg Message) error {
	return nil
}
