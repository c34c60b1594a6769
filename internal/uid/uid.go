/*
Package uid generates identifiers suitable for item keys: random IDs and
time-ordered IDs that sort by creation instant.

Encoding is Crockford base-32, which keeps IDs short, case-safe and free of
ambiguous characters.
*/
package uid

import (
	"crypto/rand"
	"fmt"
	"strings"
	"time"
)

// Crockford base-32 alphabet (excludes I, L, O, U). The final 'Z' is doubled
// so a random byte of 0xFF still maps inside the alphabet.
const alphabet = "0123456789ABCDEFGHJKMNPQRSTVWXYZZ"

const alphabetLen = len(alphabet) - 1 // 32

const (
	timePartLen   = 10
	randomPartLen = 16
)

// Random returns a crypto-random base-32 string of the given length.
// Length 10 or more is unique enough for item keys.
func Random(size int) string {
	buf := make([]byte, size)
	if _, err := rand.Read(buf); err != nil {
		panic("uid: crypto/rand read failed: " + err.Error())
	}
	out := make([]byte, size)
	for i, b := range buf {
		out[i] = alphabet[int(b)*alphabetLen/0xff]
	}
	return string(out)
}

// Sortable returns a 26-character ID whose lexicographic order follows the
// current time at millisecond resolution. Equal-millisecond IDs order
// randomly among themselves.
func Sortable() string {
	return SortableAt(time.Now())
}

// SortableAt returns a sortable ID for the given instant.
func SortableAt(t time.Time) string {
	ms := t.UnixMilli()
	b := make([]byte, timePartLen)
	for i := timePartLen - 1; i >= 0; i-- {
		b[i] = alphabet[ms%int64(alphabetLen)]
		ms /= int64(alphabetLen)
	}
	return string(b) + Random(randomPartLen)
}

// Timestamp extracts the millisecond creation time from a sortable ID.
func Timestamp(s string) (int64, error) {
	if len(s) != timePartLen+randomPartLen {
		return 0, fmt.Errorf("uid: invalid sortable ID length %d", len(s))
	}
	var ms int64
	for _, c := range []byte(s[:timePartLen]) {
		idx := strings.IndexByte(alphabet, c)
		if idx < 0 {
			return 0, fmt.Errorf("uid: invalid sortable ID char %q", c)
		}
		ms = ms*int64(alphabetLen) + int64(idx)
	}
	return ms, nil
}
