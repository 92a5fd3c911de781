package usecase_test

import (
	"testing"

	"github.com/rs-labo46/ec-order-engine/internal/usecase"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestToMinorUnits(t *testing.T) {
	cases := []struct {
		amount   string
		currency string
		want     int64
	}{
		{"40", "USD", 4000},
		{"38.55", "usd", 3855},
		{"0", "EUR", 0},
		{"2400", "JPY", 2400},
		{"1.234", "KWD", 1234},
	}
	for _, tc := range cases {
		t.Run(tc.amount+tc.currency, func(t *testing.T) {
			got, err := usecase.ToMinorUnits(dec(tc.amount), tc.currency)
			require.NoError(t, err)
			assert.Equal(t, tc.want, got)
		})
	}
}

func TestToMinorUnits_Rejects(t *testing.T) {
	_, err := usecase.ToMinorUnits(dec("10.005"), "USD")
	assert.Error(t, err)

	_, err = usecase.ToMinorUnits(dec("100.5"), "JPY")
	assert.Error(t, err)

	_, err = usecase.ToMinorUnits(dec("-1"), "USD")
	assert.Error(t, err)
}
