package session

import (
	"errors"
	"testing"
)

// mockSender records sent commands and can be told to fail.
type mockSender struct {
	sent []string
	err  error
}

func (s *mockSender) Send(cmd string) error {
	if s.err != nil {
		return s.err
	}
	s.sent = append(s.sent, cmd)
	return nil
}

func newTestController() (*Controller, *mockSender) {
	sender := &mockSender{}
	return NewController(sender, 5), sender
}

func TestStartComputesCoinsRequired(t *testing.T) {
	cases := []struct {
		price int
		want  int
	}{
		{5, 1},
		{42, 9},
		{45, 9},
		{46, 10},
		{1, 1},
	}
	for _, tc := range cases {
		c, _ := newTestController()
		if err := c.Start(tc.price); err != nil {
			t.Fatalf("Start(%d) error = %v", tc.price, err)
		}
		if got := c.Snapshot().CoinsRequired; got != tc.want {
			t.Errorf("Start(%d) CoinsRequired = %d, want %d", tc.price, got, tc.want)
		}
	}
}

func TestStartSendsCoinCountAsDecimal(t *testing.T) {
	c, sender := newTestController()
	if err := c.Start(45); err != nil {
		t.Fatalf("Start() error = %v", err)
	}
	if len(sender.sent) != 1 || sender.sent[0] != "9" {
		t.Errorf("sent = %v, want [\"9\"]", sender.sent)
	}
	if got := c.Snapshot().State; got != RateRequested {
		t.Errorf("state after Start = %v, want RateRequested", got)
	}
}

func TestStartWhileActiveFails(t *testing.T) {
	c, _ := newTestController()
	if err := c.Start(45); err != nil {
		t.Fatalf("first Start() error = %v", err)
	}
	err := c.Start(10)
	if !errors.Is(err, ErrSessionActive) {
		t.Fatalf("second Start() error = %v, want ErrSessionActive", err)
	}
	// Existing session untouched.
	snap := c.Snapshot()
	if snap.Price != 45 || snap.CoinsRequired != 9 {
		t.Errorf("existing session mutated: %+v", snap)
	}
}

func TestStartRejectsNonPositivePrice(t *testing.T) {
	c, _ := newTestController()
	for _, price := range []int{0, -5} {
		if err := c.Start(price); !errors.Is(err, ErrInvalidPrice) {
			t.Errorf("Start(%d) error = %v, want ErrInvalidPrice", price, err)
		}
	}
}

func TestStartSendFailureKeepsIdle(t *testing.T) {
	sender := &mockSender{err: errors.New("write failed")}
	c := NewController(sender, 5)
	if err := c.Start(45); err == nil {
		t.Fatal("Start() with failing sender returned nil error")
	}
	// An unflushed send must not leave the session in RateRequested.
	if got := c.Snapshot().State; got != Idle {
		t.Errorf("state after failed send = %v, want Idle", got)
	}
	// Transport recovers; the same ticket can be scanned again.
	sender.err = nil
	if err := c.Start(45); err != nil {
		t.Errorf("retry after transport recovery failed: %v", err)
	}
	if got := c.Snapshot().State; got != RateRequested {
		t.Errorf("state after retry = %v, want RateRequested", got)
	}
}

// hookSender runs a callback before reporting a successful send,
// simulating stream data that arrives while the write is in flight.
type hookSender struct {
	onSend func()
	sent   []string
}

func (s *hookSender) Send(cmd string) error {
	if s.onSend != nil {
		s.onSend()
	}
	s.sent = append(s.sent, cmd)
	return nil
}

func TestRateAckDuringSendNotDropped(t *testing.T) {
	sender := &hookSender{}
	c := NewController(sender, 5)
	// The controller acks so fast that the chunk is decoded before
	// Start has observed the send result.
	sender.onSend = func() { c.HandleChunk([]byte("ST")) }

	if err := c.Start(45); err != nil {
		t.Fatalf("Start() error = %v", err)
	}
	snap := c.Snapshot()
	if !snap.RateConfirmed {
		t.Error("RateConfirmed = false, want true (ack raced the send)")
	}
	if snap.State != AwaitingCoins {
		t.Errorf("state = %v, want AwaitingCoins (no step back to RateRequested)", snap.State)
	}
}

func TestRateAckMovesToAwaitingCoins(t *testing.T) {
	c, _ := newTestController()
	c.Start(45)
	c.HandleChunk([]byte("ST"))
	snap := c.Snapshot()
	if snap.State != AwaitingCoins {
		t.Errorf("state = %v, want AwaitingCoins", snap.State)
	}
	if !snap.RateConfirmed {
		t.Error("RateConfirmed = false, want true")
	}
}

func TestCoinsAcceptedBeforeRateAck(t *testing.T) {
	c, _ := newTestController()
	c.Start(45)
	// Controller reports a coin before the ack arrives.
	c.HandleChunk([]byte("$"))
	snap := c.Snapshot()
	if snap.CoinsReceived != 1 {
		t.Errorf("CoinsReceived = %d, want 1 (coins tolerated in RateRequested)", snap.CoinsReceived)
	}
	if snap.State != RateRequested {
		t.Errorf("state = %v, want RateRequested", snap.State)
	}
}

func TestCoinsAccumulateWithoutCompleting(t *testing.T) {
	c, _ := newTestController()
	c.Start(25) // 5 coins required
	c.HandleChunk([]byte("ST"))
	c.HandleChunk([]byte("$$$"))
	snap := c.Snapshot()
	if snap.CoinsReceived != 3 {
		t.Errorf("CoinsReceived = %d, want 3", snap.CoinsReceived)
	}
	if snap.Completed {
		t.Error("Completed = true with 3/5 coins, want false")
	}
}

func TestCoinsAndCompletionInOneChunk(t *testing.T) {
	c, _ := newTestController()
	c.Start(10) // 2 coins required
	c.HandleChunk([]byte("ST"))
	c.HandleChunk([]byte("$$P"))
	snap := c.Snapshot()
	if snap.CoinsReceived != 2 {
		t.Errorf("CoinsReceived = %d, want 2", snap.CoinsReceived)
	}
	if !snap.Completed || snap.State != PaymentComplete {
		t.Errorf("snapshot = %+v, want completed PaymentComplete", snap)
	}
}

func TestPrematureCompletionIgnored(t *testing.T) {
	c, _ := newTestController()
	c.Start(15) // 3 coins required
	c.HandleChunk([]byte("ST$"))
	c.HandleChunk([]byte("P"))
	snap := c.Snapshot()
	if snap.CoinsReceived != 1 {
		t.Errorf("CoinsReceived = %d, want 1 (unchanged)", snap.CoinsReceived)
	}
	if snap.Completed || snap.State == PaymentComplete {
		t.Errorf("premature P completed the session: %+v", snap)
	}
	// The controller resends P once coins catch up.
	c.HandleChunk([]byte("$$"))
	c.HandleChunk([]byte("P"))
	if snap := c.Snapshot(); !snap.Completed {
		t.Errorf("resent P after enough coins did not complete: %+v", snap)
	}
}

func TestRateAckSplitAcrossChunks(t *testing.T) {
	c, _ := newTestController()
	c.Start(45)
	c.HandleChunk([]byte("S"))
	c.HandleChunk([]byte("T"))
	if snap := c.Snapshot(); !snap.RateConfirmed {
		t.Errorf("split \"S\"+\"T\" did not confirm rate: %+v", snap)
	}
}

func TestEventsWithNoSessionAreNoOps(t *testing.T) {
	c, _ := newTestController()
	c.HandleChunk([]byte("ST$$$P"))
	snap := c.Snapshot()
	if snap.State != Idle || snap.CoinsReceived != 0 || snap.Completed {
		t.Errorf("idle controller mutated by stream data: %+v", snap)
	}
}

func TestCancelResetsSession(t *testing.T) {
	c, _ := newTestController()
	c.Start(45)
	c.HandleChunk([]byte("ST$$"))
	c.Cancel()
	snap := c.Snapshot()
	if snap.State != Idle || snap.Price != 0 || snap.CoinsReceived != 0 || snap.RateConfirmed {
		t.Errorf("Cancel() left state behind: %+v", snap)
	}
	// A new ticket is accepted after cancel.
	if err := c.Start(10); err != nil {
		t.Errorf("Start() after Cancel() error = %v", err)
	}
}

func TestFinalizeAfterCompletion(t *testing.T) {
	c, _ := newTestController()
	c.Start(10)
	c.HandleChunk([]byte("ST$$P"))
	if got := c.Snapshot().State; got != PaymentComplete {
		t.Fatalf("state = %v, want PaymentComplete", got)
	}
	// Terminal until the explicit reset.
	c.HandleChunk([]byte("$P"))
	if got := c.Snapshot().CoinsReceived; got != 2 {
		t.Errorf("coins mutated in terminal state: %d, want 2", got)
	}
	c.Finalize()
	if got := c.Snapshot().State; got != Idle {
		t.Errorf("state after Finalize = %v, want Idle", got)
	}
}

func TestUpdatesPublishedOnStateChange(t *testing.T) {
	c, _ := newTestController()
	c.Start(10)
	c.HandleChunk([]byte("ST"))

	var got []Snapshot
	for {
		select {
		case snap := <-c.Updates():
			got = append(got, snap)
			continue
		default:
		}
		break
	}
	if len(got) < 2 {
		t.Fatalf("received %d updates, want at least 2 (rate requested, rate confirmed)", len(got))
	}
	last := got[len(got)-1]
	if last.State != AwaitingCoins {
		t.Errorf("last update state = %v, want AwaitingCoins", last.State)
	}
}
