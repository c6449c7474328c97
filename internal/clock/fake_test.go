package clock

import (
	"testing"
	"time"
)

var epoch = time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)

func TestFakeAfterFiresOnAdvance(t *testing.T) {
	c := Fake(epoch)
	ch := c.After(5 * time.Second)

	c.Advance(4 * time.Second)
	select {
	case <-ch:
		t.Fatal("timer fired before deadline")
	default:
	}

	c.Advance(time.Second)
	select {
	case fired := <-ch:
		if !fired.Equal(epoch.Add(5 * time.Second)) {
			t.Fatalf("fired at %v", fired)
		}
	default:
		t.Fatal("timer did not fire at deadline")
	}
	if c.PendingCount() != 0 {
		t.Fatalf("expected no pending waiters, got %d", c.PendingCount())
	}
}

func TestFakeAfterNonPositiveFiresImmediately(t *testing.T) {
	c := Fake(epoch)
	select {
	case <-c.After(0):
	default:
		t.Fatal("zero duration should fire immediately")
	}
	if !c.Now().Equal(epoch) {
		t.Fatalf("clock moved: %v", c.Now())
	}
}

func TestFakeWaitForTimers(t *testing.T) {
	c := Fake(epoch)
	done := make(chan struct{})
	go func() {
		<-c.After(time.Minute)
		close(done)
	}()
	c.WaitForTimers(1)
	c.Advance(time.Minute)
	select {
	case <-done:
	case <-time.After(2 * time.Second):
		t.Fatal("waiter never released")
	}
}

func TestAutoFakeAdvancesOnWait(t *testing.T) {
	c := AutoFake(epoch)
	<-c.After(2 * time.Second)
	<-c.After(3 * time.Second)
	if got := c.Now().Sub(epoch); got != 5*time.Second {
		t.Fatalf("elapsed = %v, want 5s", got)
	}
}

func TestImplementsClock(t *testing.T) {
	var _ Clock = Fake(epoch)
	var _ Clock = Real()
}
