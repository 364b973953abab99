package domain

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestParseTabReference(t *testing.T) {
	cases := []struct {
		in     string
		want   int64
		wantOK bool
	}{
		{"tab14", 14, true},
		{"tab7", 7, true},
		{" TAB22 ", 22, true},
		{"tab", 0, false},
		{"tab0", 0, false},
		{"tab1a", 0, false},
		{"cash", 0, false},
		{"card-tab3", 0, false},
		{"", 0, false},
	}
	for _, tc := range cases {
		got, ok := ParseTabReference(tc.in)
		assert.Equal(t, tc.wantOK, ok, "input %q", tc.in)
		assert.Equal(t, tc.want, got, "input %q", tc.in)
	}
}

func TestTabPaymentMethodRoundTrips(t *testing.T) {
	id, ok := ParseTabReference(TabPaymentMethod(41))
	assert.True(t, ok)
	assert.EqualValues(t, 41, id)
}

func TestUnrestockedQty(t *testing.T) {
	item := SaleItem{OriginalQuantity: 3, RestockedQty: 1}
	assert.Equal(t, 2, item.UnrestockedQty())

	item.RestockedQty = 5
	assert.Equal(t, 0, item.UnrestockedQty())
}
