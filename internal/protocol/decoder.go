// Package protocol turns the controller's unframed ASCII byte stream
// into discrete events. The stream has no length prefix and no
// checksum; tokens may arrive split across chunks or coalesced into
// one, so the decoder keeps a small accumulation buffer between
// chunks. It is a pure state transition over (buffer, chunk) and has
// no transport dependencies.
package protocol

import (
	"log/slog"
	"strings"
)

// Recognized tokens, in their fixed evaluation order.
const (
	tokenRateAck    = "ST"
	tokenCoin       = "$"
	tokenCompletion = "P"
)

// BufferCeiling bounds the accumulation buffer. The protocol produces
// no legitimate token longer than two bytes, so anything piling up
// past this is inert noise and gets discarded wholesale.
const BufferCeiling = 50

// EventKind discriminates decoded protocol events.
type EventKind int

const (
	// RateAcknowledged confirms the controller received the coin-count
	// command. Emitted at most once per session.
	RateAcknowledged EventKind = iota
	// CoinInserted reports coins accepted since the previous pass.
	CoinInserted
	// CompletionSignaled reports the controller judging the tariff
	// satisfied. Whether payment actually completes is decided by the
	// session, which knows the coin target.
	CompletionSignaled
)

func (k EventKind) String() string {
	switch k {
	case RateAcknowledged:
		return "rate-acknowledged"
	case CoinInserted:
		return "coin-inserted"
	case CompletionSignaled:
		return "completion-signaled"
	default:
		return "unknown"
	}
}

// Event is one decoded protocol occurrence. Coins is set only for
// CoinInserted.
type Event struct {
	Kind  EventKind
	Coins int
}

// Decoder accumulates stream bytes and tokenizes them. Not safe for
// concurrent use; the session pump is its single caller.
type Decoder struct {
	buf      []byte
	rateSeen bool
}

func NewDecoder() *Decoder {
	return &Decoder{}
}

// Feed appends a chunk and runs the token passes in fixed order:
// "ST", then "$", then "P". Evaluating coins before completion means a
// coin arriving in the same chunk as the completion signal is counted
// first. Consumed bytes are stripped; unmatched bytes (a lone "S"
// awaiting its "T") stay buffered for the next chunk.
func (d *Decoder) Feed(chunk []byte) []Event {
	d.buf = append(d.buf, chunk...)
	var events []Event

	buf := string(d.buf)

	if n := strings.Count(buf, tokenRateAck); n > 0 {
		if !d.rateSeen {
			d.rateSeen = true
			events = append(events, Event{Kind: RateAcknowledged})
		} else {
			slog.Debug("[protocol] duplicate rate ack ignored", "count", n)
		}
		buf = strings.ReplaceAll(buf, tokenRateAck, "")
	}

	if n := strings.Count(buf, tokenCoin); n > 0 {
		events = append(events, Event{Kind: CoinInserted, Coins: n})
		buf = strings.ReplaceAll(buf, tokenCoin, "")
	}

	if n := strings.Count(buf, tokenCompletion); n > 0 {
		for i := 0; i < n; i++ {
			events = append(events, Event{Kind: CompletionSignaled})
		}
		buf = strings.ReplaceAll(buf, tokenCompletion, "")
	}

	if len(buf) > BufferCeiling {
		slog.Warn("[protocol] buffer overflow, discarding", "len", len(buf))
		buf = ""
	}

	d.buf = append(d.buf[:0], buf...)
	return events
}

// Reset clears the buffer and the rate-ack latch. Called at session
// start and teardown so stale stream state never leaks across tickets.
func (d *Decoder) Reset() {
	d.buf = d.buf[:0]
	d.rateSeen = false
}

// Buffered reports how many undecoded bytes are pending.
func (d *Decoder) Buffered() int {
	return len(d.buf)
}
