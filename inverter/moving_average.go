package inverter

// MovingAverage is a fixed-size ring of samples. Before the ring fills up,
// Avg covers only the samples seen so far.
type MovingAverage struct {
	window []float64
	sum    float64
	next   int
	count  int
}

func NewMovingAverage(size int) *MovingAverage {
	return &MovingAverage{window: make([]float64, size)}
}

func (ma *MovingAverage) Add(value float64) {
	if ma.count == len(ma.window) {
		ma.sum -= ma.window[ma.next]
	} else {
		ma.count++
	}
	ma.window[ma.next] = value
	ma.sum += value
	ma.next = (ma.next + 1) % len(ma.window)
}

func (ma *MovingAverage) Avg() float64 {
	if ma.count == 0 {
		return 0
	}
	return ma.sum / float64(ma.count)
}

func (ma *MovingAverage) Reset() {
	ma.sum = 0
	ma.next = 0
	ma.count = 0
	for i := range ma.window {
		ma.window[i] = 0
	}
}
