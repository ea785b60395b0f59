package sandbox

import (
	"context"
	"errors"
	"path/filepath"
	"testing"

	bolt "go.etcd.io/bbolt"

	"github.com/foxzi/courier/internal/channel"
)

type mockSender struct {
	sent []*channel.Message
}

func (m *mockSender) Send(ctx context.Context, msg *channel.Message) error {
	m.sent = append(m.sent, msg)
	return nil
}

func newTestStorage(t *testing.T) *Storage {
	t.Helper()

	db, err := bolt.Open(filepath.Join(t.TempDir(), "test.db"), 0600, nil)
	if err != nil {
		t.Fatalf("failed to open db: %v", err)
	}
	t.Cleanup(func() { db.Close() })

	storage, err := NewStorage(db)
	if err != nil {
		t.Fatalf("failed to create storage: %v", err)
	}
	return storage
}

func testMessage() *channel.Message {
	return &channel.Message{
		ID:      "msg-1",
		Channel: channel.SMS,
		To:      "+15550001",
		Body:    "Your payment is due",
		Tags:    map[string]string{"campaign_id": "c1"},
	}
}

func TestSenderProductionMode(t *testing.T) {
	storage := newTestStorage(t)
	mock := &mockSender{}
	sender := NewSender(mock, "", storage, nil)

	if err := sender.Send(context.Background(), testMessage()); err != nil {
		t.Fatalf("Send failed: %v", err)
	}
	if len(mock.sent) != 1 {
		t.Fatalf("expected 1 delivered message, got %d", len(mock.sent))
	}

	stats, _ := storage.Stats(context.Background())
	if stats.Total != 0 {
		t.Errorf("expected nothing captured, got %d", stats.Total)
	}
}

func TestSenderProductionWithoutTransport(t *testing.T) {
	sender := NewSender(nil, ModeProduction, newTestStorage(t), nil)

	err := sender.Send(context.Background(), testMessage())
	if !errors.Is(err, channel.ErrTransportUnavailable) {
		t.Fatalf("expected ErrTransportUnavailable, got %v", err)
	}
}

func TestSenderSandboxMode(t *testing.T) {
	storage := newTestStorage(t)
	mock := &mockSender{}
	sender := NewSender(mock, ModeSandbox, storage, nil)

	ctx := context.Background()
	if err := sender.Send(ctx, testMessage()); err != nil {
		t.Fatalf("Send failed: %v", err)
	}
	if len(mock.sent) != 0 {
		t.Errorf("sandbox mode must not deliver, got %d", len(mock.sent))
	}

	captured, err := storage.Get(ctx, "msg-1")
	if err != nil || captured == nil {
		t.Fatalf("expected captured message, err=%v", err)
	}
	if captured.Channel != "sms" || captured.Mode != ModeSandbox {
		t.Errorf("unexpected capture: %+v", captured)
	}
	if captured.Body != "Your payment is due" {
		t.Errorf("unexpected body %q", captured.Body)
	}
}

func TestSenderSandboxErrorSimulation(t *testing.T) {
	storage := newTestStorage(t)
	sender := NewSender(nil, ModeSandbox, storage, nil)
	sender.SetErrorSimulation(true, 1.0)

	err := sender.Send(context.Background(), testMessage())
	var de *channel.DeliveryError
	if !errors.As(err, &de) {
		t.Fatalf("expected DeliveryError, got %v", err)
	}

	captured, _ := storage.Get(context.Background(), "msg-1")
	if captured == nil || captured.SimulatedErr == "" {
		t.Error("expected simulated error recorded on capture")
	}
}

func TestSenderRedirectMode(t *testing.T) {
	storage := newTestStorage(t)
	mock := &mockSender{}
	sender := NewSender(mock, ModeRedirect, storage, nil)
	sender.SetRedirect("+15559999")

	msg := testMessage()
	if err := sender.Send(context.Background(), msg); err != nil {
		t.Fatalf("Send failed: %v", err)
	}

	if len(mock.sent) != 1 || mock.sent[0].To != "+15559999" {
		t.Fatalf("expected redirected delivery, got %+v", mock.sent)
	}
	if msg.To != "+15550001" {
		t.Error("original message must not be modified")
	}

	captured, _ := storage.Get(context.Background(), "msg-1")
	if captured == nil || captured.OriginalTo != "+15550001" {
		t.Errorf("expected audit copy with original recipient, got %+v", captured)
	}
}

func TestSenderRedirectWithoutAddressFallsBackToSandbox(t *testing.T) {
	storage := newTestStorage(t)
	mock := &mockSender{}
	sender := NewSender(mock, ModeRedirect, storage, nil)

	if err := sender.Send(context.Background(), testMessage()); err != nil {
		t.Fatalf("Send failed: %v", err)
	}
	if len(mock.sent) != 0 {
		t.Error("expected no delivery without redirect address")
	}
	stats, _ := storage.Stats(context.Background())
	if stats.ByMode[ModeSandbox] != 1 {
		t.Errorf("expected 1 sandbox capture, got %v", stats.ByMode)
	}
}
