// Package ticket handles the textual ticket payload carried inside the
// QR code. The core never touches QR imaging; it produces and consumes
// only this string form.
package ticket

import (
	"errors"
	"fmt"
	"math/rand/v2"
	"strconv"
	"strings"
)

// Payload format: TICKET-ID-<id>|PRECIO:<price>
const (
	idPrefix = "TICKET-ID-"
	priceKey = "PRECIO:"
)

var (
	ErrNoPrice  = errors.New("ticket: payload has no PRECIO field")
	ErrBadPrice = errors.New("ticket: PRECIO is not a positive integer")
)

// Payload is one ticket's contents.
type Payload struct {
	ID    int
	Price int
}

// New issues a random ticket. The price is 1–9 coin units so the coin
// count fits the controller's single-digit wire range.
func New(coinValue int) Payload {
	if coinValue <= 0 {
		coinValue = 5
	}
	return Payload{
		ID:    1000 + rand.IntN(9000),
		Price: (1 + rand.IntN(9)) * coinValue,
	}
}

// Format renders the payload into its QR text form.
func (p Payload) Format() string {
	return fmt.Sprintf("%s%d|%s%d", idPrefix, p.ID, priceKey, p.Price)
}

// Parse extracts the price (and, when present, the ticket ID) from a
// scanned payload. Only the integer after PRECIO: matters to the
// payment flow; scanner garbage before the key is tolerated.
func Parse(s string) (Payload, error) {
	s = strings.TrimSpace(s)

	idx := strings.LastIndex(s, priceKey)
	if idx < 0 {
		return Payload{}, fmt.Errorf("%w: %q", ErrNoPrice, s)
	}
	price, err := strconv.Atoi(strings.TrimSpace(s[idx+len(priceKey):]))
	if err != nil || price <= 0 {
		return Payload{}, fmt.Errorf("%w: %q", ErrBadPrice, s[idx+len(priceKey):])
	}

	p := Payload{Price: price}
	if start := strings.Index(s, idPrefix); start >= 0 {
		rest := s[start+len(idPrefix):]
		if end := strings.IndexByte(rest, '|'); end >= 0 {
			if id, err := strconv.Atoi(rest[:end]); err == nil {
				p.ID = id
			}
		}
	}
	return p, nil
}
