package codec

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestParseHappyPath(t *testing.T) {
	record := "1234 BTCUSDT+001000010000"
	order, err := Parse([]byte(record))
	require.NoError(t, err)
	assert.Equal(t, "1234", order.ID)
	assert.Equal(t, " BTCUSDT", order.Symbol)
	assert.Equal(t, SideBuy, order.Side)
	assert.Equal(t, uint32(10), order.Quantity)
	assert.Equal(t, 10000.0, order.Price)
}

func TestParseSell(t *testing.T) {
	order, err := Parse([]byte("1234 BTCUSDT-001000010000"))
	require.NoError(t, err)
	assert.Equal(t, SideSell, order.Side)
}

func TestParseWrongLength(t *testing.T) {
	_, err := Parse([]byte("too short"))
	require.ErrorIs(t, err, ErrMalformed)
}

func TestParseNonDigitQuantityRejected(t *testing.T) {
	_, err := Parse([]byte("1234 BTCUSDT+00X000010000"))
	require.ErrorIs(t, err, ErrMalformed)
}

func TestParseNonDigitPriceRejected(t *testing.T) {
	_, err := Parse([]byte("1234 BTCUSDT+0010000X0000"))
	require.ErrorIs(t, err, ErrMalformed)
}

func TestFormatRoundTrip(t *testing.T) {
	records := []string{
		"1234 BTCUSDT+001000010000",
		"AAAAABCDEFGH-999999999999",
		"id01  ETHUSD+000100000100",
	}
	for _, want := range records {
		order, err := Parse([]byte(want))
		require.NoError(t, err)
		got := Format(order)
		assert.Equal(t, want, got)
	}
}
