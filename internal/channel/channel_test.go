package channel

import (
	"context"
	"errors"
	"fmt"
	"reflect"
	"testing"
)

func TestParse(t *testing.T) {
	tests := []struct {
		in      string
		want    Channel
		wantErr bool
	}{
		{"email", Email, false},
		{" SMS ", SMS, false},
		{"WhatsApp", WhatsApp, false},
		{"fax", "", true},
		{"", "", true},
	}

	for _, tc := range tests {
		got, err := Parse(tc.in)
		if (err != nil) != tc.wantErr {
			t.Errorf("Parse(%q) error = %v, wantErr %v", tc.in, err, tc.wantErr)
		}
		if got != tc.want {
			t.Errorf("Parse(%q) = %q, want %q", tc.in, got, tc.want)
		}
	}
}

func TestNormalize(t *testing.T) {
	got := Normalize([]Channel{WhatsApp, Email, WhatsApp, SMS, Email})
	want := []Channel{Email, SMS, WhatsApp}
	if !reflect.DeepEqual(got, want) {
		t.Errorf("Normalize = %v, want %v", got, want)
	}
}

func TestDeliveryErrorIs(t *testing.T) {
	down := &DeliveryError{Channel: SMS, Unavailable: true, Message: "gateway down"}
	if !errors.Is(down, ErrTransportUnavailable) {
		t.Error("unavailable error should match ErrTransportUnavailable")
	}
	if !IsTransportUnavailable(fmt.Errorf("wrapped: %w", down)) {
		t.Error("wrapped unavailable error should match")
	}

	rejected := &DeliveryError{Channel: SMS, Message: "invalid number"}
	if errors.Is(rejected, ErrTransportUnavailable) {
		t.Error("recipient error must not match ErrTransportUnavailable")
	}

	cause := errors.New("boom")
	wrapped := &DeliveryError{Channel: Email, Message: "x", Err: cause}
	if !errors.Is(wrapped, cause) {
		t.Error("DeliveryError should unwrap to its cause")
	}
}

func TestRouter(t *testing.T) {
	r := NewRouter(testLogger())

	var got []*Message
	r.Register(Email, SenderFunc(func(ctx context.Context, msg *Message) error {
		got = append(got, msg)
		return nil
	}))

	if err := r.Send(context.Background(), &Message{Channel: Email, To: "a@b.c"}); err != nil {
		t.Fatalf("Send failed: %v", err)
	}
	if len(got) != 1 {
		t.Fatalf("expected routed message, got %d", len(got))
	}

	err := r.Send(context.Background(), &Message{Channel: SMS, To: "+1"})
	if !IsTransportUnavailable(err) {
		t.Errorf("expected unavailable for unregistered channel, got %v", err)
	}

	if chans := r.Channels(); !reflect.DeepEqual(chans, []Channel{Email}) {
		t.Errorf("Channels = %v", chans)
	}
}
