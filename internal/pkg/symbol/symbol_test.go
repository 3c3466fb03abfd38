package symbol

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestParse(t *testing.T) {
	assert.Equal(t, Symbol{Base: "BTC", Quote: "USDT"}, Parse("BTC/USDT"))
	assert.Equal(t, Symbol{Base: "BTC", Quote: "USDT"}, Parse(" btcusdt "))
	assert.Equal(t, Symbol{Base: "ETH", Quote: "BTC"}, Parse("ETHBTC:PERP"))
	assert.Equal(t, Symbol{}, Parse(""))
	assert.Equal(t, Symbol{}, Parse("USDT"))
}

func TestNormalize(t *testing.T) {
	assert.Equal(t, "BTCUSDT", Normalize("btc/usdt"))
	assert.Equal(t, "BTCUSDT", Normalize("BTCUSDT"))
	// 识别不了的写法原样大写放行，由上层继续校验。
	assert.Equal(t, "FOO", Normalize(" foo "))
	assert.Equal(t, "", Normalize("  "))
}

func TestIsValid(t *testing.T) {
	assert.True(t, IsValid("SOL/USDT"))
	assert.False(t, IsValid("SOL"))
}
