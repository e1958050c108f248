// Copyright (c) 2025 ManuGH
// Licensed under the PolyForm Noncommercial License 1.0.0
// Since v2.0.0, this software is restricted to non-commercial use only.

package notify

import (
	"bytes"
	"context"
	"errors"
	"io"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/goleak"
	"gopkg.in/gomail.v2"
)

type captured struct {
	from string
	to   []string
	body string
}

func captureSender(t *testing.T, out *[]captured, mu *sync.Mutex) func(...*gomail.Message) error {
	t.Helper()
	sender := gomail.SendFunc(func(from string, to []string, msg io.WriterTo) error {
		var buf bytes.Buffer
		if _, err := msg.WriteTo(&buf); err != nil {
			return err
		}
		mu.Lock()
		*out = append(*out, captured{from: from, to: to, body: buf.String()})
		mu.Unlock()
		return nil
	})
	return func(m ...*gomail.Message) error { return gomail.Send(sender, m...) }
}

func TestSMTPMailer_Send(t *testing.T) {
	var (
		mu   sync.Mutex
		sent []captured
	)
	m := newSMTPMailer(SMTPConfig{FromName: "Reelstream", FromEmail: "noreply@reelstream.test"}, captureSender(t, &sent, &mu))

	msg := PaymentSuccess("viewer@example.com", PaymentDetails{
		UserName:      "viewer",
		Amount:        "₹ 299.00",
		PlanName:      "Monthly",
		TransactionID: "pay_123",
		PaidAt:        time.Date(2026, 1, 2, 3, 4, 0, 0, time.UTC),
	})
	require.NoError(t, m.Send(context.Background(), msg))

	require.Len(t, sent, 1)
	assert.Equal(t, "noreply@reelstream.test", sent[0].from)
	assert.Equal(t, []string{"viewer@example.com"}, sent[0].to)
	assert.Contains(t, sent[0].body, "Subject: Payment received")
	assert.Contains(t, sent[0].body, "pay_123")
}

func TestSMTPMailer_Errors(t *testing.T) {
	boom := errors.New("relay refused")
	m := newSMTPMailer(SMTPConfig{FromEmail: "a@b.test"}, func(...*gomail.Message) error { return boom })

	require.ErrorIs(t, m.Send(context.Background(), Message{To: "x@y.test", Template: "welcome"}), boom)
	require.ErrorIs(t, m.Send(context.Background(), Message{}), ErrNoRecipient)
}

func TestSMTPMailer_RateLimitHonorsContext(t *testing.T) {
	m := newSMTPMailer(SMTPConfig{FromEmail: "a@b.test", PerMinute: 1}, func(...*gomail.Message) error { return nil })
	require.NoError(t, m.Send(context.Background(), Message{To: "x@y.test"}))

	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
	defer cancel()
	require.Error(t, m.Send(ctx, Message{To: "x@y.test"}))
}

type recordingMailer struct {
	mu   sync.Mutex
	sent []Message
}

func (r *recordingMailer) Send(_ context.Context, m Message) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.sent = append(r.sent, m)
	return nil
}

func (r *recordingMailer) count() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.sent)
}

func TestOutbox_DeliversAndDrains(t *testing.T) {
	defer goleak.VerifyNone(t, goleak.IgnoreCurrent())

	rec := &recordingMailer{}
	o := NewOutbox(rec, 4)
	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- o.Run(ctx) }()

	assert.True(t, o.Post(Welcome("a@example.com", "a")))
	require.Eventually(t, func() bool { return rec.count() == 1 }, time.Second, 5*time.Millisecond)

	cancel()
	require.NoError(t, <-done)
}

func TestOutbox_DropsWhenFull(t *testing.T) {
	o := NewOutbox(&recordingMailer{}, 1)
	assert.True(t, o.Post(Message{To: "a@example.com"}))
	assert.False(t, o.Post(Message{To: "b@example.com"}))
}

func TestPaymentFailure_OmitsEmptyPlan(t *testing.T) {
	m := PaymentFailure("a@example.com", PaymentDetails{UserName: "a", Amount: "$5.00", Reason: "signature mismatch"})
	assert.NotContains(t, m.Text, "plan")
	assert.Contains(t, m.Text, "signature mismatch")
}
