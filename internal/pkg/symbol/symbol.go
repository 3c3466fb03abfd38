package symbol

import "strings"

// Symbol 是拆分后的交易对。
type Symbol struct {
	Base  string
	Quote string
}

// Exchange 返回交易所侧的紧凑写法，如 BTCUSDT。
func (s Symbol) Exchange() string {
	if s.Base == "" || s.Quote == "" {
		return ""
	}
	return s.Base + s.Quote
}

var quoteCurrencies = []string{"USDT", "USDC", "BUSD", "TUSD", "BTC", "ETH", "BNB"}

// Parse 接受 BTC/USDT、btcusdt、BTCUSDT:PERP 等常见写法并拆分。
// 无法识别时返回零值。
func Parse(s string) Symbol {
	s = strings.ToUpper(strings.TrimSpace(s))
	if s == "" {
		return Symbol{}
	}
	if idx := strings.Index(s, ":"); idx >= 0 {
		s = s[:idx]
	}
	if parts := strings.SplitN(s, "/", 2); len(parts) == 2 {
		return Symbol{Base: strings.TrimSpace(parts[0]), Quote: strings.TrimSpace(parts[1])}
	}
	for _, quote := range quoteCurrencies {
		if strings.HasSuffix(s, quote) && len(s) > len(quote) {
			return Symbol{Base: s[:len(s)-len(quote)], Quote: quote}
		}
	}
	return Symbol{}
}

// Normalize 把任意写法归一成交易所紧凑形式；识别不了的输入退化为
// 去空白的大写原文，由上层校验兜底。
func Normalize(s string) string {
	if norm := Parse(s).Exchange(); norm != "" {
		return norm
	}
	return strings.ToUpper(strings.TrimSpace(s))
}

// IsValid 报告输入是否能被拆成 base/quote。
func IsValid(s string) bool {
	sym := Parse(s)
	return sym.Base != "" && sym.Quote != ""
}
