// Package vote turns a stream of noisy per-frame plate observations into a
// single majority-vote decision per window of N frames.
package vote

import "plategate/internal/plate"

// DefaultWindowSize matches the per-station observation buffer used in the
// field installations.
const DefaultWindowSize = 3

// Window is the bounded observation buffer for one station.  It is not safe
// for concurrent use; each station owns exactly one.
type Window struct {
	size int
	obs  []plate.Code
}

func NewWindow(size int) *Window {
	if size <= 0 {
		size = DefaultWindowSize
	}
	return &Window{
		size: size,
		obs:  make([]plate.Code, 0, size),
	}
}

// Observe appends a validated plate code.  Once the window is full it returns
// the majority-vote winner and true, and clears the buffer — each group of N
// observations yields at most one decision attempt, whether or not the
// downstream decision is accepted.  Below N observations it returns false.
func (w *Window) Observe(code plate.Code) (plate.Code, bool) {
	w.obs = append(w.obs, code)
	if len(w.obs) < w.size {
		return "", false
	}
	winner := majority(w.obs)
	w.obs = w.obs[:0]
	return winner, true
}

// Len reports how many observations are buffered.
func (w *Window) Len() int { return len(w.obs) }

// majority returns the most frequent code.  Ties go to the code whose first
// occurrence in the window is earliest.
func majority(obs []plate.Code) plate.Code {
	counts := make(map[plate.Code]int, len(obs))
	for _, c := range obs {
		counts[c]++
	}

	var winner plate.Code
	best := 0
	for _, c := range obs {
		if counts[c] > best {
			winner, best = c, counts[c]
		}
	}
	return winner
}
