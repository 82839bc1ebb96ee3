package service

import (
	"context"
	"time"

	"github.com/vedran77/mailbox/internal/domain"
)

// AckSource drives a confirmed message past sent. Implementations call
// advance with each new status, in order, until ctx is done.
type AckSource interface {
	Track(ctx context.Context, msg domain.Message, advance func(domain.Status))
}

// TimerAck promotes messages after fixed delays. It stands in for real
// delivery and read receipts, which the backend does not emit yet.
type TimerAck struct {
	DeliveredAfter time.Duration
	ReadAfter      time.Duration
}

func (a TimerAck) Track(ctx context.Context, msg domain.Message, advance func(domain.Status)) {
	go func() {
		if !sleep(ctx, a.DeliveredAfter) {
			return
		}
		advance(domain.StatusDelivered)

		if !sleep(ctx, a.ReadAfter) {
			return
		}
		advance(domain.StatusRead)
	}()
}

// NoAck leaves confirmed messages at sent.
type NoAck struct{}

func (NoAck) Track(context.Context, domain.Message, func(domain.Status)) {}

func sleep(ctx context.Context, d time.Duration) bool {
	t := time.NewTimer(d)
	defer t.Stop()

	select {
	case <-t.C:
		return true
	case <-ctx.Done():
		return false
	}
}
