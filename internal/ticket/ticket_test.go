package ticket

import (
	"errors"
	"fmt"
	"testing"
)

func TestFormat(t *testing.T) {
	p := Payload{ID: 4321, Price: 45}
	got := p.Format()
	want := "TICKET-ID-4321|PRECIO:45"
	if got != want {
		t.Errorf("Format() = %q, want %q", got, want)
	}
}

func TestParseRoundTrip(t *testing.T) {
	p := Payload{ID: 1234, Price: 30}
	got, err := Parse(p.Format())
	if err != nil {
		t.Fatalf("Parse() error = %v", err)
	}
	if got != p {
		t.Errorf("Parse(Format()) = %+v, want %+v", got, p)
	}
}

func TestParsePriceOnly(t *testing.T) {
	got, err := Parse("PRECIO:15")
	if err != nil {
		t.Fatalf("Parse() error = %v", err)
	}
	if got.Price != 15 || got.ID != 0 {
		t.Errorf("Parse(\"PRECIO:15\") = %+v, want Price=15 ID=0", got)
	}
}

func TestParseToleratesScannerGarbage(t *testing.T) {
	got, err := Parse("  \x02TICKET-ID-99|PRECIO:20  ")
	if err != nil {
		t.Fatalf("Parse() error = %v", err)
	}
	if got.Price != 20 || got.ID != 99 {
		t.Errorf("Parse() = %+v, want Price=20 ID=99", got)
	}
}

func TestParseMissingPrice(t *testing.T) {
	if _, err := Parse("TICKET-ID-99"); !errors.Is(err, ErrNoPrice) {
		t.Errorf("Parse() error = %v, want ErrNoPrice", err)
	}
}

func TestParseBadPrice(t *testing.T) {
	cases := []string{
		"PRECIO:abc",
		"PRECIO:",
		"PRECIO:0",
		"PRECIO:-5",
	}
	for _, payload := range cases {
		if _, err := Parse(payload); !errors.Is(err, ErrBadPrice) {
			t.Errorf("Parse(%q) error = %v, want ErrBadPrice", payload, err)
		}
	}
}

func TestNewStaysInWireRange(t *testing.T) {
	const coinValue = 5
	for i := 0; i < 200; i++ {
		p := New(coinValue)
		if p.ID < 1000 || p.ID > 9999 {
			t.Fatalf("New() ID = %d, want 4 digits", p.ID)
		}
		if p.Price%coinValue != 0 {
			t.Fatalf("New() Price = %d, want multiple of %d", p.Price, coinValue)
		}
		coins := p.Price / coinValue
		if coins < 1 || coins > 9 {
			t.Fatalf("New() needs %d coins, want 1-9 (single wire digit)", coins)
		}
	}
}

func TestNewFormatParsable(t *testing.T) {
	for i := 0; i < 20; i++ {
		p := New(5)
		got, err := Parse(p.Format())
		if err != nil {
			t.Fatalf("Parse(%q) error = %v", p.Format(), err)
		}
		if got != p {
			t.Fatalf("round trip = %+v, want %+v", got, p)
		}
	}
}

func ExamplePayload_Format() {
	fmt.Println(Payload{ID: 1234, Price: 45}.Format())
	// Output: TICKET-ID-1234|PRECIO:45
}
