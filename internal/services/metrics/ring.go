package metrics

import "github.com/veltapay/payment-orchestrator/internal/models"

// ring is a fixed-capacity buffer of raw metrics records. Once full, every
// append evicts the oldest record, which bounds memory regardless of traffic
// volume.
type ring struct {
	buf  []models.MetricsData
	head int
	size int
}

func newRing(capacity int) *ring {
	return &ring{buf: make([]models.MetricsData, capacity)}
}

func (r *ring) append(d models.MetricsData) {
	r.buf[r.head] = d
	r.head = (r.head + 1) % len(r.buf)
	if r.size < len(r.buf) {
		r.size++
	}
}

func (r *ring) len() int { return r.size }

// snapshot copies the live records in oldest-to-newest order.
func (r *ring) snapshot() []models.MetricsData {
	out := make([]models.MetricsData, 0, r.size)
	start := r.head - r.size
	if start < 0 {
		start += len(r.buf)
	}
	for i := 0; i < r.size; i++ {
		out = append(out, r.buf[(start+i)%len(r.buf)])
	}
	return out
}

// tail returns up to n of the most recent records, oldest first.
func (r *ring) tail(n int) []models.MetricsData {
	all := r.snapshot()
	if len(all) <= n {
		return all
	}
	return all[len(all)-n:]
}
