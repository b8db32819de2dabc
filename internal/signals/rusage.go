package signals

import "time"

// Rusage is the subset of resource usage tracked for children.
type Rusage struct {
	Utime  time.Duration
	Stime  time.Duration
	MaxRSS int64
	Minflt int64
	Majflt int64
	Nvcsw  int64
	Nivcsw int64
}

// Add accumulates o into r. Times and counters sum; MaxRSS keeps the maximum.
func (r *Rusage) Add(o Rusage) {
	if r == nil {
		return
	}
	r.Utime += o.Utime
	r.Stime += o.Stime
	if o.MaxRSS > r.MaxRSS {
		r.MaxRSS = o.MaxRSS
	}
	r.Minflt += o.Minflt
	r.Majflt += o.Majflt
	r.Nvcsw += o.Nvcsw
	r.Nivcsw += o.Nivcsw
}
