// Package session drives one ticket's payment from scan to completion.
// The controller owns the ticket state and the protocol decoder and is
// the single consumer of the inbound chunk stream: chunks are decoded
// and applied strictly one at a time, so no locking is needed beyond
// the boundary with the operator-facing calls.
package session

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strconv"
	"sync"

	"github.com/tmaldonado/parquimovil/internal/protocol"
)

// State is the session lifecycle. PaymentComplete is terminal until an
// explicit Finalize or Cancel returns to Idle.
type State int

const (
	Idle State = iota
	TicketScanned
	RateRequested
	AwaitingCoins
	PaymentComplete
)

func (s State) String() string {
	switch s {
	case Idle:
		return "idle"
	case TicketScanned:
		return "ticket-scanned"
	case RateRequested:
		return "rate-requested"
	case AwaitingCoins:
		return "awaiting-coins"
	case PaymentComplete:
		return "payment-complete"
	default:
		return "unknown"
	}
}

var (
	// ErrSessionActive rejects a ticket scan while a session is live.
	ErrSessionActive = errors.New("session: a session is already active")
	// ErrInvalidPrice rejects non-positive ticket prices.
	ErrInvalidPrice = errors.New("session: price must be positive")
)

// Sender is the outbound half of the connection manager.
type Sender interface {
	Send(cmd string) error
}

// Snapshot is an immutable view of the session for the UI layer.
type Snapshot struct {
	State         State
	Price         int
	CoinsRequired int
	CoinsReceived int
	RateConfirmed bool
	Completed     bool
}

// Controller owns the current ticket session. At most one session is
// active at a time.
type Controller struct {
	sender    Sender
	coinValue int

	mu            sync.Mutex
	dec           *protocol.Decoder
	state         State
	price         int
	coinsRequired int
	coinsReceived int
	rateConfirmed bool
	completed     bool

	updates chan Snapshot
}

// NewController builds a controller sending through the given sender.
// coinValue is the monetary value of one coin token; zero means 5.
func NewController(sender Sender, coinValue int) *Controller {
	if coinValue <= 0 {
		coinValue = 5
	}
	return &Controller{
		sender:    sender,
		coinValue: coinValue,
		dec:       protocol.NewDecoder(),
		updates:   make(chan Snapshot, 16),
	}
}

// Updates delivers a snapshot after every state change. Delivery is
// best-effort; a stalled consumer loses intermediate snapshots, never
// the ability to call Snapshot.
func (c *Controller) Updates() <-chan Snapshot {
	return c.updates
}

// Start begins a session for a scanned ticket price. It computes the
// coin count, sends it to the controller as an ASCII decimal, and only
// a flush-acknowledged send moves the session to RateRequested — an
// unsent command leaves nothing for the controller to ack.
func (c *Controller) Start(price int) error {
	c.mu.Lock()
	if c.state != Idle {
		c.mu.Unlock()
		return fmt.Errorf("%w (state %s)", ErrSessionActive, c.state)
	}
	if price <= 0 {
		c.mu.Unlock()
		return fmt.Errorf("%w: got %d", ErrInvalidPrice, price)
	}
	required := (price + c.coinValue - 1) / c.coinValue
	c.dec.Reset()
	c.state = TicketScanned
	c.price = price
	c.coinsRequired = required
	c.coinsReceived = 0
	c.rateConfirmed = false
	c.completed = false
	c.mu.Unlock()

	if err := c.sender.Send(strconv.Itoa(required)); err != nil {
		// Session not started; the operator retries after reconnecting.
		c.mu.Lock()
		c.resetLocked()
		c.mu.Unlock()
		return fmt.Errorf("session: request rate: %w", err)
	}

	c.mu.Lock()
	// The ack may already have been decoded while Send was in flight;
	// don't step backwards from AwaitingCoins.
	if c.state == TicketScanned {
		c.state = RateRequested
	}
	snap := c.snapshotLocked()
	c.mu.Unlock()

	slog.Info("[session] rate requested", "price", price, "coins", required)
	c.publish(snap)
	return nil
}

// Cancel aborts the session and returns to Idle.
func (c *Controller) Cancel() {
	c.mu.Lock()
	c.resetLocked()
	snap := c.snapshotLocked()
	c.mu.Unlock()
	slog.Info("[session] cancelled")
	c.publish(snap)
}

// Finalize closes out a session after the ticket is issued. Same reset
// semantics as Cancel.
func (c *Controller) Finalize() {
	c.mu.Lock()
	c.resetLocked()
	snap := c.snapshotLocked()
	c.mu.Unlock()
	slog.Info("[session] finalized")
	c.publish(snap)
}

// Snapshot returns the current session view.
func (c *Controller) Snapshot() Snapshot {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.snapshotLocked()
}

// Run pumps the inbound chunk stream until ctx is done or the stream
// closes. It is the only goroutine feeding the decoder; chunks are
// processed one at a time in arrival order.
func (c *Controller) Run(ctx context.Context, chunks <-chan []byte) {
	for {
		select {
		case <-ctx.Done():
			return
		case chunk, ok := <-chunks:
			if !ok {
				slog.Warn("[session] stream closed")
				return
			}
			c.HandleChunk(chunk)
		}
	}
}

// HandleChunk decodes one chunk and applies its events.
func (c *Controller) HandleChunk(chunk []byte) {
	c.mu.Lock()
	events := c.dec.Feed(chunk)
	var snaps []Snapshot
	for _, ev := range events {
		if c.applyLocked(ev) {
			snaps = append(snaps, c.snapshotLocked())
		}
	}
	c.mu.Unlock()

	for _, snap := range snaps {
		c.publish(snap)
	}
}

// applyLocked mutates the session for one protocol event. Returns
// whether anything changed. Events with no active session are dropped;
// the controller retransmits on its own schedule and the protocol has
// no ack layer, so tolerance, not replay, is the resilience model.
func (c *Controller) applyLocked(ev protocol.Event) bool {
	switch ev.Kind {
	case protocol.RateAcknowledged:
		// TicketScanned counts as pending too: the ack can be decoded
		// in the window between the command reaching the wire and
		// Start observing the send result.
		if c.state != TicketScanned && c.state != RateRequested && c.state != AwaitingCoins {
			slog.Debug("[session] rate ack with no pending request", "state", c.state)
			return false
		}
		c.rateConfirmed = true
		c.state = AwaitingCoins
		slog.Info("[session] rate confirmed")
		return true

	case protocol.CoinInserted:
		// Coins are accepted in RateRequested too: the controller may
		// report a coin before its rate ack arrives.
		if c.state != RateRequested && c.state != AwaitingCoins {
			slog.Warn("[session] coins outside active session ignored", "coins", ev.Coins, "state", c.state)
			return false
		}
		c.coinsReceived += ev.Coins
		slog.Info("[session] coins received", "got", c.coinsReceived, "need", c.coinsRequired)
		return true

	case protocol.CompletionSignaled:
		if c.state != RateRequested && c.state != AwaitingCoins {
			slog.Debug("[session] completion with no active session", "state", c.state)
			return false
		}
		if c.coinsRequired <= 0 || c.coinsReceived < c.coinsRequired {
			// Premature: the controller resends once enough coins are in.
			slog.Warn("[session] premature completion ignored",
				"got", c.coinsReceived, "need", c.coinsRequired)
			return false
		}
		c.completed = true
		c.state = PaymentComplete
		slog.Info("[session] payment complete", "price", c.price, "coins", c.coinsReceived)
		return true

	default:
		return false
	}
}

func (c *Controller) resetLocked() {
	c.dec.Reset()
	c.state = Idle
	c.price = 0
	c.coinsRequired = 0
	c.coinsReceived = 0
	c.rateConfirmed = false
	c.completed = false
}

func (c *Controller) snapshotLocked() Snapshot {
	return Snapshot{
		State:         c.state,
		Price:         c.price,
		CoinsRequired: c.coinsRequired,
		CoinsReceived: c.coinsReceived,
		RateConfirmed: c.rateConfirmed,
		Completed:     c.completed,
	}
}

func (c *Controller) publish(snap Snapshot) {
	select {
	case c.updates <- snap:
	default:
		slog.Debug("[session] update dropped, consumer stalled")
	}
}
