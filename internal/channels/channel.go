// Package channels declares the contract a business-communication
// platform adapter (email, Slack, SMS) must satisfy to plug into the
// Inbox conductor and receive approved draft replies. Concrete adapters
// are external, out of scope here; this package is the interface only.
package channels

import "context"

// Inbound is one message received from a channel, handed to the Inbox
// conductor for triage.
type Inbound struct {
	SessionID   string
	ExternalRef string
	Sender      string
	Body        string
}

// Channel defines the interface for a messaging platform integration.
type Channel interface {
	// Name returns the unique name of the channel (e.g., "email").
	Name() string

	// Start begins listening for messages, calling onMessage for each
	// one received. It blocks until ctx is canceled or a fatal error
	// occurs.
	Start(ctx context.Context, onMessage func(Inbound)) error

	// Send delivers an approved draft's body back through the channel
	// to the session it originated from.
	Send(ctx context.Context, sessionID, body string) error
}
