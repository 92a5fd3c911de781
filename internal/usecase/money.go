package usecase

import (
	"fmt"
	"strings"

	"github.com/shopspring/decimal"
)

// 小数点以下を持たない通貨（Stripeの一覧）
var zeroDecimalCurrencies = map[string]bool{
	"BIF": true, "CLP": true, "DJF": true, "GNF": true, "JPY": true,
	"KMF": true, "KRW": true, "MGA": true, "PYG": true, "RWF": true,
	"UGX": true, "VND": true, "VUV": true, "XAF": true, "XOF": true,
	"XPF": true,
}

var threeDecimalCurrencies = map[string]bool{
	"BHD": true, "JOD": true, "KWD": true, "OMR": true, "TND": true,
}

func currencyExponent(currency string) int32 {
	c := strings.ToUpper(currency)
	switch {
	case zeroDecimalCurrencies[c]:
		return 0
	case threeDecimalCurrencies[c]:
		return 3
	}
	return 2
}

// 金額を最小通貨単位の整数にする。端数が出る金額はエラー（丸めない）
func ToMinorUnits(amount decimal.Decimal, currency string) (int64, error) {
	if amount.IsNegative() {
		return 0, fmt.Errorf("negative amount %s", amount)
	}
	minor := amount.Shift(currencyExponent(currency))
	if !minor.IsInteger() {
		return 0, fmt.Errorf("amount %s has more precision than %s allows", amount, strings.ToUpper(currency))
	}
	return minor.IntPart(), nil
}
