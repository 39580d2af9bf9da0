// Package format renders amounts for the wizard views.
package format

import (
	"strings"
	"time"

	"golang.org/x/text/language"
	"golang.org/x/text/message"
	"golang.org/x/text/number"
)

func printer(lang string) *message.Printer {
	tag, err := language.Parse(lang)
	if err != nil {
		tag = language.Japanese
	}
	return message.NewPrinter(tag)
}

// Yen formats a whole-yen amount with grouping.
// Example: Yen(150000, "ja") => "¥150,000"
func Yen(amount int64, lang string) string {
	p := printer(lang)
	if amount < 0 {
		return p.Sprintf("-¥%d", -amount)
	}
	return p.Sprintf("¥%d", amount)
}

// YenFloat formats a yen amount that arrived as a float, rounding to the yen.
func YenFloat(amount float64, lang string) string {
	if amount < 0 {
		return Yen(-int64(-amount+0.5), lang)
	}
	return Yen(int64(amount+0.5), lang)
}

// Decimal formats v with grouping and at most maxFraction fractional digits.
func Decimal(v float64, lang string, maxFraction int) string {
	return printer(lang).Sprint(number.Decimal(v, number.MaxFractionDigits(maxFraction)))
}

// Percent formats a value already expressed in percent, e.g. 12.5 => "12.5%".
func Percent(v float64, lang string) string {
	return Decimal(v, lang, 1) + "%"
}

// Date formats time in a locale-friendly short form.
func Date(t time.Time, lang string) string {
	if strings.HasPrefix(strings.ToLower(lang), "ja") {
		return t.Format("2006/01/02 15:04")
	}
	return t.Format("Jan 2, 2006 15:04")
}
