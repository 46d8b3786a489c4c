package domain

import (
	"fmt"
	"strings"
)

// Currency 计价单位（封闭枚举，新增币种需要改代码）
type Currency string

const (
	CurrencySat Currency = "sat" // 最小单位 token
	CurrencyBRL Currency = "brl"
	CurrencyUSD Currency = "usd"
	CurrencyEUR Currency = "eur"
	CurrencyCHF Currency = "chf"
	CurrencyGBP Currency = "gbp"
)

// Currencies 全部币种，顺序即界面展示顺序
var Currencies = []Currency{
	CurrencySat,
	CurrencyBRL,
	CurrencyUSD,
	CurrencyEUR,
	CurrencyCHF,
	CurrencyGBP,
}

// IsValid 检查是否为已知币种
func (c Currency) IsValid() bool {
	for _, known := range Currencies {
		if c == known {
			return true
		}
	}
	return false
}

// Decimals 展示精度：sat 为整数，法币两位小数
func (c Currency) Decimals() int32 {
	if c == CurrencySat {
		return 0
	}
	return 2
}

func (c Currency) String() string {
	return string(c)
}

// ParseCurrency 解析币种（大小写不敏感）
func ParseCurrency(s string) (Currency, error) {
	c := Currency(strings.ToLower(strings.TrimSpace(s)))
	if !c.IsValid() {
		return "", fmt.Errorf("%w: unknown currency %q", ErrValidation, s)
	}
	return c, nil
}

// UnmarshalText 让 yaml/json 的 map key 与字段都走同一套校验
func (c *Currency) UnmarshalText(text []byte) error {
	parsed, err := ParseCurrency(string(text))
	if err != nil {
		return err
	}
	*c = parsed
	return nil
}

// MarshalText 与 UnmarshalText 对称
func (c Currency) MarshalText() ([]byte, error) {
	return []byte(c), nil
}
