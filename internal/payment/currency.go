// Copyright (c) 2025 ManuGH
// Licensed under the PolyForm Noncommercial License 1.0.0
// Since v2.0.0, this software is restricted to non-commercial use only.

package payment

import (
	"fmt"
	"math"

	"golang.org/x/text/currency"
	"golang.org/x/text/language"
	"golang.org/x/text/message"
)

// DefaultCurrency is charged when none is configured.
const DefaultCurrency = "INR"

// Money converts between major units stored with payments and the minor
// units the gateway speaks.
type Money struct {
	unit    currency.Unit
	scale   int
	printer *message.Printer
}

// NewMoney validates an ISO 4217 code.
func NewMoney(code string) (Money, error) {
	unit, err := currency.ParseISO(code)
	if err != nil {
		return Money{}, fmt.Errorf("payment: currency %q: %w", code, err)
	}
	scale, _ := currency.Standard.Rounding(unit)
	return Money{unit: unit, scale: scale, printer: message.NewPrinter(language.English)}, nil
}

func (m Money) Code() string { return m.unit.String() }

// ToMinor converts a major-unit amount, rounding to the nearest minor unit.
func (m Money) ToMinor(amount float64) int64 {
	return int64(math.Round(amount * math.Pow10(m.scale)))
}

// FromMinor converts minor units back to major units.
func (m Money) FromMinor(minor int64) float64 {
	return float64(minor) / math.Pow10(m.scale)
}

// Format renders amount with the currency symbol.
func (m Money) Format(amount float64) string {
	return m.printer.Sprint(currency.Symbol(m.unit.Amount(amount)))
}
