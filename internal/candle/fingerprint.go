package candle

import (
	"encoding/binary"
	"math"

	"github.com/cespare/xxhash/v2"

	"candlescan/internal/model"
)

// Each lane is an independent polynomial hash over per-bar xxhash values:
// H(run) = Σ h(bar_t)·mul^t for t counted from the run's newest bar. Lane 0
// is the cache key fingerprint and lane 1 the check stored with the entry.
var lanes = [2]struct{ salt, mul, inv uint64 }{
	{salt: 0x243F6A8885A308D3, mul: 0x9E3779B97F4A7C15},
	{salt: 0x13198A2E03707344, mul: 0xBF58476D1CE4E5B9},
}

func init() {
	for i := range lanes {
		lanes[i].inv = modInverse(lanes[i].mul)
	}
}

// modInverse returns the inverse of an odd a modulo 2^64.
func modInverse(a uint64) uint64 {
	x := a // correct to 3 bits; each step doubles that
	for i := 0; i < 5; i++ {
		x *= 2 - a*x
	}
	return x
}

// windowPrints holds prefix sums of the lane hashes of one window, so the
// fingerprint of any run of consecutive bars costs O(1) once the bars it
// covers have been hashed. Bars are hashed on first use. A windowPrints
// belongs to one evaluation and is not safe for concurrent use.
type windowPrints struct {
	w   model.Window
	sum [2][]uint64 // sum[l][m] = Σ_{i<m} h_l(bar i)·mul_l^i
	inv [2][]uint64 // inv[l][i] = mul_l^-i
	pow [2]uint64   // mul_l^(bars hashed)
}

func newWindowPrints(w model.Window) *windowPrints {
	p := &windowPrints{w: w}
	for l := range lanes {
		p.sum[l] = append(make([]uint64, 0, w.Len()+1), 0)
		p.inv[l] = append(make([]uint64, 0, w.Len()+1), 1)
		p.pow[l] = 1
	}
	return p
}

// grow hashes bars until the first m are covered.
func (p *windowPrints) grow(m int) {
	var buf [40]byte
	for i := len(p.sum[0]) - 1; i < m; i++ {
		b := p.w.At(i)
		binary.LittleEndian.PutUint64(buf[8:], math.Float64bits(b.Open))
		binary.LittleEndian.PutUint64(buf[16:], math.Float64bits(b.High))
		binary.LittleEndian.PutUint64(buf[24:], math.Float64bits(b.Low))
		binary.LittleEndian.PutUint64(buf[32:], math.Float64bits(b.Close))
		for l := range lanes {
			binary.LittleEndian.PutUint64(buf[:8], lanes[l].salt)
			h := xxhash.Sum64(buf[:])
			p.sum[l] = append(p.sum[l], p.sum[l][i]+h*p.pow[l])
			p.inv[l] = append(p.inv[l], p.inv[l][i]*lanes[l].inv)
			p.pow[l] *= lanes[l].mul
		}
	}
}

// run returns the two lane hashes of bars [off, off+n). The result depends
// only on the OHLC values of those bars, not on off.
func (p *windowPrints) run(off, n int) (fp, check uint64) {
	if n <= 0 {
		return 0, 0
	}
	p.grow(off + n)
	var out [2]uint64
	for l := range out {
		out[l] = (p.sum[l][off+n] - p.sum[l][off]) * p.inv[l][off]
	}
	return out[0], out[1]
}

// key builds the cache key for metric over the n-bar run starting at off.
func (p *windowPrints) key(metric string, off, period int, w model.Window) (MetricKey, uint64) {
	n := span(metric, w, period)
	fp, check := p.run(off, n)
	return MetricKey{Metric: metric, Fingerprint: fp, Period: period, Span: n}, check
}
