package channel

import (
	"context"
	"testing"
	"time"

	"github.com/foxzi/courier/internal/ratelimit"
)

type countingLimiter struct {
	max   int
	calls int
}

func (l *countingLimiter) Allow(ctx context.Context, req *ratelimit.Request) (*ratelimit.Result, error) {
	l.calls++
	if l.calls > l.max {
		return &ratelimit.Result{DeniedBy: ratelimit.LevelChannel, RetryAfter: time.Minute}, nil
	}
	return &ratelimit.Result{Allowed: true}, nil
}

func TestLimitedSender(t *testing.T) {
	delivered := 0
	next := SenderFunc(func(ctx context.Context, msg *Message) error {
		delivered++
		return nil
	})

	var denied []ratelimit.Level
	s := NewLimitedSender(next, &countingLimiter{max: 2})
	s.OnDeny(func(ch Channel, level ratelimit.Level) { denied = append(denied, level) })

	ctx := context.Background()
	for i := 0; i < 3; i++ {
		err := s.Send(ctx, &Message{Channel: SMS, To: "+1"})
		if i < 2 && err != nil {
			t.Fatalf("send %d: unexpected error %v", i, err)
		}
		if i == 2 {
			if err == nil {
				t.Fatal("expected rate limit error")
			}
			if IsTransportUnavailable(err) {
				t.Error("rate limit must not mark the transport unavailable")
			}
		}
	}

	if delivered != 2 {
		t.Errorf("expected 2 deliveries, got %d", delivered)
	}
	if len(denied) != 1 || denied[0] != ratelimit.LevelChannel {
		t.Errorf("unexpected deny callbacks %v", denied)
	}
}
