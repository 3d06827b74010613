package clock

import (
	"testing"
	"time"
)

func TestFake_AfterAdvancesTime(t *testing.T) {
	start := time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)
	f := NewFake(start)

	got := <-f.After(time.Second)
	if want := start.Add(time.Second); !got.Equal(want) {
		t.Errorf("After fired at %v, want %v", got, want)
	}
	f.Advance(500 * time.Millisecond)
	if want := start.Add(1500 * time.Millisecond); !f.Now().Equal(want) {
		t.Errorf("Now() = %v, want %v", f.Now(), want)
	}
	if s := f.Sleeps(); len(s) != 1 || s[0] != time.Second {
		t.Errorf("Sleeps() = %v, want [1s]", s)
	}
}

func TestReal_AfterZeroFiresImmediately(t *testing.T) {
	select {
	case <-Real().After(0):
	case <-time.After(time.Second):
		t.Fatal("After(0) did not fire")
	}
}
