package cartstore

import (
	"testing"

	"github.com/stretchr/testify/assert"

	"github.com/xenking/picklepot-store/internal/domain/cart"
)

func TestParseItems(t *testing.T) {
	got := parseItems(map[string]string{
		"mango-8oz": "2",
		"chili-6oz": "1",
		"broken":    "x",
		"zero":      "0",
	})
	assert.Equal(t, []cart.Item{
		{VariantID: "chili-6oz", Quantity: 1},
		{VariantID: "mango-8oz", Quantity: 2},
	}, got)

	assert.Empty(t, parseItems(nil))
}

func TestKey(t *testing.T) {
	assert.Equal(t, "cart:abc", key("abc"))
}
