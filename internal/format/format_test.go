package format

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
)

func TestYen(t *testing.T) {
	assert.Equal(t, "¥150,000", Yen(150000, "ja"))
	assert.Equal(t, "¥1,800,000", Yen(1800000, "en"))
	assert.Equal(t, "¥0", Yen(0, "ja"))
	assert.Equal(t, "-¥1,200", Yen(-1200, "ja"))
	assert.Equal(t, "¥30,000", Yen(30000, "not a tag"))
}

func TestYenFloatRounds(t *testing.T) {
	assert.Equal(t, "¥1,235", YenFloat(1234.6, "ja"))
	assert.Equal(t, "-¥1,235", YenFloat(-1234.6, "ja"))
}

func TestPercentAndDecimal(t *testing.T) {
	assert.Equal(t, "12.5%", Percent(12.5, "ja"))
	assert.Equal(t, "10%", Percent(10, "en"))
	assert.Equal(t, "1,234.5", Decimal(1234.5, "en", 1))
}

func TestDate(t *testing.T) {
	ts := time.Date(2026, 4, 1, 9, 30, 0, 0, time.UTC)
	assert.Equal(t, "2026/04/01 09:30", Date(ts, "ja"))
	assert.Equal(t, "Apr 1, 2026 09:30", Date(ts, "en"))
}
