package channels_test

import (
	"context"
	"errors"
	"testing"

	"github.com/coreclaw/coreclaw/internal/channels"
)

// stubChannel is a minimal Channel implementation used to verify the
// interface shape compiles and behaves as documented.
type stubChannel struct {
	sent []string
}

func (s *stubChannel) Name() string { return "stub" }

func (s *stubChannel) Start(ctx context.Context, onMessage func(channels.Inbound)) error {
	onMessage(channels.Inbound{SessionID: "s1", Sender: "a@example.com", Body: "hello"})
	<-ctx.Done()
	return nil
}

func (s *stubChannel) Send(ctx context.Context, sessionID, body string) error {
	if sessionID == "" {
		return errors.New("session id required")
	}
	s.sent = append(s.sent, body)
	return nil
}

var _ channels.Channel = (*stubChannel)(nil)

func TestStubChannel_Name(t *testing.T) {
	ch := &stubChannel{}
	if got := ch.Name(); got != "stub" {
		t.Fatalf("Name() = %q, want %q", got, "stub")
	}
}

func TestStubChannel_StartDeliversInbound(t *testing.T) {
	ch := &stubChannel{}
	ctx, cancel := context.WithCancel(context.Background())

	var got channels.Inbound
	done := make(chan struct{})
	go func() {
		_ = ch.Start(ctx, func(in channels.Inbound) {
			got = in
			close(done)
		})
	}()

	<-done
	cancel()

	if got.Body != "hello" {
		t.Fatalf("expected inbound body %q, got %q", "hello", got.Body)
	}
}

func TestStubChannel_SendRequiresSessionID(t *testing.T) {
	ch := &stubChannel{}
	if err := ch.Send(context.Background(), "", "reply"); err == nil {
		t.Fatalf("expected error for empty session id")
	}
	if err := ch.Send(context.Background(), "s1", "reply"); err != nil {
		t.Fatalf("send: %v", err)
	}
	if len(ch.sent) != 1 || ch.sent[0] != "reply" {
		t.Fatalf("unexpected sent messages: %v", ch.sent)
	}
}
