// Copyright (c) 2025 ManuGH
// Licensed under the PolyForm Noncommercial License 1.0.0
// Since v2.0.0, this software is restricted to non-commercial use only.

package notify

import (
	"fmt"
	"strings"
	"time"
)

const signature = "\nThe Reelstream Team\n"

// Welcome greets a newly created account.
func Welcome(to, username string) Message {
	var b strings.Builder
	fmt.Fprintf(&b, "Hi %s,\n\n", username)
	b.WriteString("Thank you for joining Reelstream. Pick a plan to start streaming.\n")
	b.WriteString(signature)
	return Message{
		Template: "welcome",
		To:       to,
		Subject:  fmt.Sprintf("Welcome to Reelstream, %s!", username),
		Text:     b.String(),
	}
}

// PaymentDetails are the facts shown in payment emails. Amount is already
// formatted in the payment currency.
type PaymentDetails struct {
	UserName      string
	Amount        string
	PlanName      string
	TransactionID string
	PaidAt        time.Time
	Reason        string
}

func PaymentSuccess(to string, d PaymentDetails) Message {
	var b strings.Builder
	fmt.Fprintf(&b, "Hi %s,\n\n", d.UserName)
	fmt.Fprintf(&b, "We received your payment of %s for the %s plan.\n\n", d.Amount, d.PlanName)
	fmt.Fprintf(&b, "Transaction: %s\n", d.TransactionID)
	fmt.Fprintf(&b, "Date: %s\n", d.PaidAt.UTC().Format("2006-01-02 15:04 MST"))
	b.WriteString(signature)
	return Message{
		Template: "payment_success",
		To:       to,
		Subject:  "Payment received",
		Text:     b.String(),
	}
}

func PaymentFailure(to string, d PaymentDetails) Message {
	var b strings.Builder
	fmt.Fprintf(&b, "Hi %s,\n\n", d.UserName)
	fmt.Fprintf(&b, "Your payment of %s", d.Amount)
	if d.PlanName != "" {
		fmt.Fprintf(&b, " for the %s plan", d.PlanName)
	}
	b.WriteString(" could not be completed.\n")
	if d.Reason != "" {
		fmt.Fprintf(&b, "Reason: %s\n", d.Reason)
	}
	b.WriteString("\nNo money was taken. You can retry from your subscriptions page.\n")
	b.WriteString(signature)
	return Message{
		Template: "payment_failure",
		To:       to,
		Subject:  "Payment failed",
		Text:     b.String(),
	}
}

func Refunded(to string, d PaymentDetails) Message {
	var b strings.Builder
	fmt.Fprintf(&b, "Hi %s,\n\n", d.UserName)
	fmt.Fprintf(&b, "Your payment %s of %s has been refunded.\n", d.TransactionID, d.Amount)
	b.WriteString(signature)
	return Message{
		Template: "payment_refund",
		To:       to,
		Subject:  "Payment refunded",
		Text:     b.String(),
	}
}
