package payments

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestMinorUnits(t *testing.T) {
	assert.Equal(t, int64(4000), MinorUnits(40))
	assert.Equal(t, int64(1999), MinorUnits(19.99))
	assert.Equal(t, int64(0), MinorUnits(0))
}

func TestNewStripeEscrow_DefaultsCurrency(t *testing.T) {
	assert.Equal(t, "usd", NewStripeEscrow("", "").currency)
	assert.Equal(t, "etb", NewStripeEscrow("", "ETB").currency)
}
