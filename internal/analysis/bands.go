package analysis

import "math"

// bandPlan maps FFT bins onto logarithmically spaced display bands. Band
// edges follow a geometric series,
//
//	edge(k) = minHz * (maxHz/minHz)^(k/n)   for k = 0..n,
//
// so each band spans the same musical interval rather than the same number
// of hertz. The bin ranges are computed once at construction; Tick only
// walks the cached indices.
//
// With a 2048-point window at 44.1kHz the bin spacing is ~21.5Hz, wider
// than the lowest bands, so neighboring low bands may share a bin. Every
// band covers at least one bin and the ranges never run backwards.
type bandPlan struct {
	edges []float64 // len(n)+1, in Hz
	lo    []int     // first bin of each band, inclusive
	hi    []int     // last bin of each band, exclusive
}

// newBandPlan spaces n bands between minHz and maxHz. maxHz is capped at
// the Nyquist frequency. The DC bin is never assigned to a band.
func newBandPlan(n int, sampleRate float64, fftSize int, minHz, maxHz float64) *bandPlan {
	if nyquist := sampleRate / 2; maxHz > nyquist {
		maxHz = nyquist
	}

	p := &bandPlan{
		edges: make([]float64, n+1),
		lo:    make([]int, n),
		hi:    make([]int, n),
	}

	ratio := maxHz / minHz
	for k := 0; k <= n; k++ {
		p.edges[k] = minHz * math.Pow(ratio, float64(k)/float64(n))
	}

	maxBin := fftSize / 2
	binOf := func(hz float64) int {
		return int(math.Round(hz * float64(fftSize) / sampleRate))
	}
	for k := 0; k < n; k++ {
		lo := binOf(p.edges[k])
		if lo < 1 {
			lo = 1
		}
		if lo > maxBin {
			lo = maxBin
		}
		hi := binOf(p.edges[k+1])
		if hi <= lo {
			hi = lo + 1
		}
		if hi > maxBin+1 {
			hi = maxBin + 1
			if lo >= hi {
				lo = hi - 1
			}
		}
		p.lo[k] = lo
		p.hi[k] = hi
	}
	return p
}

// size returns the number of bands.
func (p *bandPlan) size() int { return len(p.lo) }

// fill writes the mean linear magnitude of each band into out, which must
// hold size() values. magnitudes is indexed by FFT bin.
func (p *bandPlan) fill(magnitudes []float64, out []float64) {
	for k := range p.lo {
		var sum float64
		lo, hi := p.lo[k], p.hi[k]
		if hi > len(magnitudes) {
			hi = len(magnitudes)
		}
		if lo >= hi {
			out[k] = 0
			continue
		}
		for i := lo; i < hi; i++ {
			sum += magnitudes[i]
		}
		out[k] = sum / float64(hi-lo)
	}
}

// bandFor returns the band index containing hz, or -1 when hz lies outside
// the plan's range.
func (p *bandPlan) bandFor(hz float64) int {
	if hz < p.edges[0] || hz >= p.edges[len(p.edges)-1] {
		return -1
	}
	for k := 0; k < p.size(); k++ {
		if hz < p.edges[k+1] {
			return k
		}
	}
	return p.size() - 1
}
