// Package core provides the ledger's domain types, the transaction
// classifier and the period window.
//
// This file contains helpers for parsing and displaying whole-yen amounts.
package core

import (
	"strconv"
	"strings"
	"unicode"

	"github.com/Rhymond/go-money"
)

// ParseYen converts a user supplied amount to whole yen.
//
// It accepts an optional leading "¥" or "￥" and thousands separators
// (both "," and full-width "，"). Fractional amounts, signs and anything
// that is not a digit are rejected. Zero is accepted; callers decide
// whether zero is meaningful.
//
// Examples:
//
//	ParseYen("1000")    -> 1000, nil
//	ParseYen("¥12,345") -> 12345, nil
//	ParseYen("12.5")    -> 0, ErrInvalidAmount
func ParseYen(s string) (int64, error) {
	s = strings.TrimSpace(s)
	s = strings.TrimPrefix(s, "¥")
	s = strings.TrimPrefix(s, "￥")
	s = strings.ReplaceAll(s, ",", "")
	s = strings.ReplaceAll(s, "，", "")
	if s == "" {
		return 0, ErrInvalidAmount
	}
	for _, r := range s {
		if !unicode.IsDigit(r) || r > unicode.MaxASCII {
			return 0, ErrInvalidAmount
		}
	}
	v, err := strconv.ParseInt(s, 10, 64)
	if err != nil {
		return 0, ErrInvalidAmount
	}
	return v, nil
}

// FormatYen renders an amount for display, e.g. "¥1,000".
// Negative balances keep their sign.
func FormatYen(amount int64) string {
	return money.New(amount, money.JPY).Display()
}
