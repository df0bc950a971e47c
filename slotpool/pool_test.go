package slotpool_test

import (
	"testing"

	"github.com/hengestone/chirp/message"
	"github.com/hengestone/chirp/slotpool"
)

func TestAcquireReleaseCycle(t *testing.T) {
	p, err := slotpool.New(2)
	if err != nil {
		t.Fatalf("New: %v", err)
	}

	s1, ok := p.Acquire()
	if !ok {
		t.Fatal("expected acquire to succeed")
	}
	s2, ok := p.Acquire()
	if !ok {
		t.Fatal("expected second acquire to succeed")
	}

	if !p.IsExhausted() {
		t.Fatal("pool should be exhausted after acquiring all slots")
	}

	if _, ok := p.Acquire(); ok {
		t.Fatal("acquire should fail on an exhausted pool")
	}

	if err := p.Release(s1.ID); err != nil {
		t.Fatalf("Release: %v", err)
	}
	if p.IsExhausted() {
		t.Fatal("pool should not be exhausted after a release")
	}

	if _, ok := p.Acquire(); !ok {
		t.Fatal("expected acquire to succeed after release")
	}

	if err := p.Release(s2.ID); err != nil {
		t.Fatalf("Release: %v", err)
	}
}

func TestDoubleReleaseIsDetected(t *testing.T) {
	p, _ := slotpool.New(1)
	s, _ := p.Acquire()

	if err := p.Release(s.ID); err != nil {
		t.Fatalf("first release: %v", err)
	}
	if err := p.Release(s.ID); err == nil {
		t.Fatal("expected double release to be reported")
	}

	// State must not be corrupted: the slot should still be acquirable.
	if _, ok := p.Acquire(); !ok {
		t.Fatal("pool state corrupted by double release")
	}
}

func TestAcquiredMessageHasSlotFlag(t *testing.T) {
	p, _ := slotpool.New(1)
	s, _ := p.Acquire()
	if !s.Msg.HasFlag(message.FlagHasSlot) {
		t.Fatal("expected FlagHasSlot on an acquired slot's message")
	}
}

func TestNewRejectsOutOfRangeCapacity(t *testing.T) {
	if _, err := slotpool.New(0); err == nil {
		t.Fatal("expected error for 0 slots")
	}
	if _, err := slotpool.New(slotpool.MaxSlots + 1); err == nil {
		t.Fatal("expected error for >32 slots")
	}
}

func TestRefcountSurvivesConnectionTeardown(t *testing.T) {
	p, _ := slotpool.New(4)
	s, _ := p.Acquire()

	// Simulate the owning connection's initial reference going away.
	if freed := p.Unref(); freed {
		t.Fatal("pool should still be referenced by the acquired slot")
	}

	if err := p.Release(s.ID); err != nil {
		t.Fatalf("Release: %v", err)
	}
}
