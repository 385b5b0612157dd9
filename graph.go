package pyre

// graphSize is the number of samples a Graph retains.
const graphSize = 256

// Graph is a fixed-size ring of float64 samples, used to keep a rolling
// history of frame times and profiler scope durations for display.
type Graph struct {
	values [graphSize]float64
	cursor int
	count  int
}

// AddValue appends a sample, evicting the oldest once full.
func (g *Graph) AddValue(v float64) {
	g.values[g.cursor] = v
	g.cursor = (g.cursor + 1) % graphSize
	if g.count < graphSize {
		g.count++
	}
}

// Last returns the most recently added sample, or zero when empty.
func (g *Graph) Last() float64 {
	if g.count == 0 {
		return 0
	}
	return g.values[(g.cursor+graphSize-1)%graphSize]
}

// At returns the sample at index i, where 0 is the oldest retained
// sample and Len()-1 the newest.
func (g *Graph) At(i int) float64 {
	if i < 0 || i >= g.count {
		return 0
	}
	start := (g.cursor + graphSize - g.count) % graphSize
	return g.values[(start+i)%graphSize]
}

// Len returns the number of retained samples.
func (g *Graph) Len() int { return g.count }

// Cap returns the maximum number of samples the graph retains.
func (g *Graph) Cap() int { return graphSize }

// Average returns the mean of the retained samples, or zero when empty.
func (g *Graph) Average() float64 {
	if g.count == 0 {
		return 0
	}
	var sum float64
	for i := 0; i < g.count; i++ {
		sum += g.At(i)
	}
	return sum / float64(g.count)
}

// Reset discards all samples.
func (g *Graph) Reset() {
	g.cursor = 0
	g.count = 0
}
