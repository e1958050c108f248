// Copyright (c) 2025 ManuGH
// Licensed under the PolyForm Noncommercial License 1.0.0
// Since v2.0.0, this software is restricted to non-commercial use only.

package notify

import (
	"context"
	"time"

	"github.com/rs/zerolog"

	xglog "github.com/ManuGH/reelstream/internal/log"
	"github.com/ManuGH/reelstream/internal/metrics"
)

// drainTimeout bounds delivery of messages still buffered at shutdown.
const drainTimeout = 10 * time.Second

// Outbox delivers messages in the background so request handlers never
// wait on SMTP. Messages are dropped when the buffer is full.
type Outbox struct {
	mailer Mailer
	ch     chan Message
	logger zerolog.Logger
}

func NewOutbox(m Mailer, size int) *Outbox {
	if size <= 0 {
		size = 64
	}
	return &Outbox{mailer: m, ch: make(chan Message, size), logger: xglog.WithComponent("notify")}
}

// Post queues m for delivery. It reports false when the message was dropped.
func (o *Outbox) Post(m Message) bool {
	select {
	case o.ch <- m:
		return true
	default:
		metrics.EmailsSent.WithLabelValues(m.Template, "dropped").Inc()
		o.logger.Warn().Str("template", m.Template).Str("to", m.To).Msg("outbox full, email dropped")
		return false
	}
}

// Run delivers queued messages until ctx is canceled, then drains what is
// already buffered.
func (o *Outbox) Run(ctx context.Context) error {
	for {
		select {
		case m := <-o.ch:
			o.deliver(ctx, m)
		case <-ctx.Done():
			o.drain()
			return nil
		}
	}
}

func (o *Outbox) drain() {
	ctx, cancel := context.WithTimeout(context.Background(), drainTimeout)
	defer cancel()
	for {
		select {
		case m := <-o.ch:
			o.deliver(ctx, m)
		default:
			return
		}
	}
}

func (o *Outbox) deliver(ctx context.Context, m Message) {
	if err := o.mailer.Send(ctx, m); err != nil {
		o.logger.Error().Err(err).Str("template", m.Template).Str("to", m.To).Msg("email delivery failed")
	}
}
