package order

import (
	"crypto/rand"
	"encoding/base32"
	"time"
)

var numberEncoding = base32.StdEncoding.WithPadding(base32.NoPadding)

// NewNumber returns a human-readable order number such as
// PP-20250615-K3M9QX. Uniqueness is enforced by the database.
func NewNumber(now time.Time) string {
	var b [4]byte
	_, _ = rand.Read(b[:])
	return "PP-" + now.UTC().Format("20060102") + "-" + numberEncoding.EncodeToString(b[:])[:6]
}
