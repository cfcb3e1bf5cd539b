package reconnect

import (
	"testing"
	"time"
)

func TestBaseSchedule(t *testing.T) {
	expected := []int{1, 1, 1, 5, 5, 5, 15, 15, 15, 30, 30}
	for i, exp := range expected {
		d := Base(i)
		if int(d.Seconds()) != exp {
			t.Errorf("attempt %d: expected %d got %v", i, exp, d)
		}
	}
}

func TestDelayJitterBounds(t *testing.T) {
	for attempt := 0; attempt < 12; attempt++ {
		base := Base(attempt)
		lo := time.Duration(float64(base) * 0.8)
		hi := time.Duration(float64(base) * 1.2)
		for i := 0; i < 50; i++ {
			d := Delay(attempt)
			if d < lo || d > hi {
				t.Fatalf("attempt %d: delay %v outside [%v, %v]", attempt, d, lo, hi)
			}
		}
	}
}
