package rounds

import (
	"fmt"
	"sync"
	"time"
)

var testNow = time.Date(2026, 5, 4, 8, 30, 0, 0, time.UTC)

// stepClock returns a clock that advances one second per call.
func stepClock(start time.Time) func() time.Time {
	var (
		mu sync.Mutex
		t  = start
	)
	return func() time.Time {
		mu.Lock()
		defer mu.Unlock()
		t = t.Add(time.Second)
		return t
	}
}

func fixedClock(t time.Time) func() time.Time {
	return func() time.Time { return t }
}

// seqIDs returns a deterministic id generator: "<prefix>-1", "<prefix>-2"...
func seqIDs() func(prefix string) string {
	var (
		mu sync.Mutex
		n  int
	)
	return func(prefix string) string {
		mu.Lock()
		defer mu.Unlock()
		n++
		return fmt.Sprintf("%s-%d", prefix, n)
	}
}

func newTestReconciler() *Reconciler {
	return NewReconciler(WithReconcilerClock(fixedClock(testNow)), WithIDGenerator(seqIDs()))
}

func newTestPatient() *Patient {
	p := ClonePatient(nil)
	p.ID = "patient-1"
	p.AdmissionID = "admission-1"
	p.Name = "Jane Citizen"
	p.Site = "Cabrini"
	p.Version = 1
	p.CreatedAt = testNow
	p.LastUpdatedAt = testNow
	return p
}
