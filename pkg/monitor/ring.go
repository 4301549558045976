package monitor

import (
	"time"

	"github.com/queryguard/queryguard/pkg/metrics"
)

// sampleRing is a fixed-capacity ring of completed samples. Once full, each
// write evicts the oldest entry.
type sampleRing struct {
	buf   []metrics.Sample
	next  int
	count int
}

func newSampleRing(capacity int) *sampleRing {
	return &sampleRing{buf: make([]metrics.Sample, capacity)}
}

func (r *sampleRing) Add(s metrics.Sample) {
	r.buf[r.next] = s
	r.next = (r.next + 1) % len(r.buf)
	if r.count < len(r.buf) {
		r.count++
	}
}

func (r *sampleRing) Len() int {
	return r.count
}

func (r *sampleRing) Clear() {
	r.next = 0
	r.count = 0
}

// Snapshot returns a chronological copy of samples whose start time is not
// before notBefore. A zero notBefore returns everything retained.
func (r *sampleRing) Snapshot(notBefore time.Time) []metrics.Sample {
	out := make([]metrics.Sample, 0, r.count)

	start := 0
	if r.count == len(r.buf) {
		start = r.next
	}
	for i := 0; i < r.count; i++ {
		s := r.buf[(start+i)%len(r.buf)]
		if !notBefore.IsZero() && s.StartTime.Before(notBefore) {
			continue
		}
		out = append(out, s)
	}
	return out
}
