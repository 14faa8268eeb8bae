package state

import "time"

// TimeReference is a candidate upstream clock. A node adopts a reference only
// if it is strictly better than its current one: lower stratum, or equal
// stratum with a higher accuracy×reliability score.
type TimeReference struct {
	Source      NodeId
	Stratum     uint8
	Offset      time.Duration // remote clock minus local clock
	Accuracy    float64       // 0..1
	Reliability float64       // 0..1
	LastSync    time.Time
}

func (r *TimeReference) Score() float64 {
	return r.Accuracy * r.Reliability
}

// Better reports whether r should replace cur as the primary reference.
func (r *TimeReference) Better(cur *TimeReference) bool {
	if cur == nil {
		return true
	}
	if r.Stratum != cur.Stratum {
		return r.Stratum < cur.Stratum
	}
	return r.Score() > cur.Score()
}

// ClockOffset is the standard two-way offset estimator over a four-timestamp
// exchange: t1 origin send, t2 peer receive, t3 peer send, t4 origin receive.
func ClockOffset(t1, t2, t3, t4 time.Time) time.Duration {
	return (t2.Sub(t1) + t3.Sub(t4)) / 2
}
