package tracker

import "math"

// Window is a fixed-capacity ring buffer of samples. Once full, each push
// overwrites the oldest sample.
type Window struct {
	buf  []float64
	next int
	full bool
}

// NewWindow creates a window holding at most capacity samples.
func NewWindow(capacity int) *Window {
	if capacity < 1 {
		capacity = 1
	}
	return &Window{buf: make([]float64, capacity)}
}

// Push appends a sample.
func (w *Window) Push(v float64) {
	w.buf[w.next] = v
	w.next++
	if w.next == len(w.buf) {
		w.next = 0
		w.full = true
	}
}

// Len returns the number of samples currently held.
func (w *Window) Len() int {
	if w.full {
		return len(w.buf)
	}
	return w.next
}

// Cap returns the capacity of the window.
func (w *Window) Cap() int {
	return len(w.buf)
}

// MeanStd returns the mean and population standard deviation of the samples.
// Both are 0 for fewer than two samples.
func (w *Window) MeanStd() (mean, std float64) {
	n := w.Len()
	if n < 2 {
		return 0, 0
	}
	samples := w.buf[:n]
	var sum float64
	for _, v := range samples {
		sum += v
	}
	mean = sum / float64(n)
	var sq float64
	for _, v := range samples {
		d := v - mean
		sq += d * d
	}
	return mean, math.Sqrt(sq / float64(n))
}
