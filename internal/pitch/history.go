package pitch

// HistorySize is the number of recent detections averaged by a Smoother.
const HistorySize = 5

// MinValidFrequency is the lowest raw estimate accepted into the history.
const MinValidFrequency = 20.0

// History is a fixed-capacity FIFO of frequency estimates.
type History struct {
	values [HistorySize]float64
	head   int // index of the oldest value
	count  int
}

// Push appends f, overwriting the oldest value when full.
func (h *History) Push(f float64) {
	if h.count == HistorySize {
		h.values[h.head] = f
		h.head = (h.head + 1) % HistorySize
		return
	}
	h.values[(h.head+h.count)%HistorySize] = f
	h.count++
}

// DropOldest removes the oldest value, if any.
func (h *History) DropOldest() {
	if h.count == 0 {
		return
	}
	h.head = (h.head + 1) % HistorySize
	h.count--
}

// Mean returns the arithmetic mean, or 0 when empty.
func (h *History) Mean() float64 {
	if h.count == 0 {
		return 0
	}
	sum := 0.0
	for i := 0; i < h.count; i++ {
		sum += h.values[(h.head+i)%HistorySize]
	}
	return sum / float64(h.count)
}

// Len returns the number of stored values.
func (h *History) Len() int { return h.count }

// Reset empties the history.
func (h *History) Reset() {
	h.head = 0
	h.count = 0
}

// Smoother stabilizes raw detections across successive windows.
type Smoother struct {
	history History
}

// Update feeds one raw detection and returns the smoothed frequency.
// A valid detection is pushed and the mean returned. Silence drops the oldest
// entry, so the estimate fades over a few windows instead of snapping to 0.
func (s *Smoother) Update(raw float64) float64 {
	if raw > MinValidFrequency {
		s.history.Push(raw)
	} else {
		s.history.DropOldest()
	}
	return s.history.Mean()
}

// Len returns how many detections the mean currently spans.
func (s *Smoother) Len() int { return s.history.Len() }

// Reset forgets all detections.
func (s *Smoother) Reset() { s.history.Reset() }
