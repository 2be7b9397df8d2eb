package circuitbreaker

import (
	"errors"
	"testing"
	"time"
)

var errBoom = errors.New("boom")

func TestBreaker_OpensOnFailures(t *testing.T) {
	b := New(3, 0.6, 50*time.Millisecond)

	for i := 0; i < 3; i++ {
		if err := b.Execute(func() error { return errBoom }); !errors.Is(err, errBoom) {
			t.Fatalf("call %d: err = %v, want boom", i, err)
		}
	}
	if b.State() != StateOpen {
		t.Fatalf("state = %v, want open", b.State())
	}
	if err := b.Execute(func() error { return nil }); !errors.Is(err, ErrOpenState) {
		t.Errorf("open breaker should reject, got %v", err)
	}
}

func TestBreaker_HalfOpenRecovery(t *testing.T) {
	b := New(2, 0.5, 20*time.Millisecond)

	b.Execute(func() error { return errBoom })
	b.Execute(func() error { return errBoom })
	if b.State() != StateOpen {
		t.Fatalf("state = %v, want open", b.State())
	}

	time.Sleep(30 * time.Millisecond)
	if err := b.Execute(func() error { return nil }); err != nil {
		t.Fatalf("half-open probe should run, got %v", err)
	}
	if b.State() != StateClosed {
		t.Errorf("state = %v, want closed after successful probe", b.State())
	}
}

func TestBreaker_HalfOpenFailureReopens(t *testing.T) {
	b := New(2, 0.5, 20*time.Millisecond)

	b.Execute(func() error { return errBoom })
	b.Execute(func() error { return errBoom })
	time.Sleep(30 * time.Millisecond)

	b.Execute(func() error { return errBoom })
	if b.State() != StateOpen {
		t.Errorf("state = %v, want reopened", b.State())
	}
}

func TestBreaker_StaysClosedUnderThreshold(t *testing.T) {
	b := New(10, 0.6, time.Second)

	for i := 0; i < 5; i++ {
		b.Execute(func() error { return errBoom })
	}
	if b.State() != StateClosed {
		t.Errorf("state = %v, want closed below request threshold", b.State())
	}
	req, fail := b.Counts()
	if req != 5 || fail != 5 {
		t.Errorf("counts = %d/%d, want 5/5", req, fail)
	}
}
