package timing

import (
	"math"
	"math/bits"
	"time"
)

// None marks an unset timestamp.
const None time.Duration = -1

// Mapping converts a stream time x into pipeline time:
// y = B + (x - XBase) * Num / Den.
type Mapping struct {
	XBase time.Duration `json:"xbase"`
	B     time.Duration `json:"b"`
	Num   uint64        `json:"num"`
	Den   uint64        `json:"den"`
}

// Identity maps every x onto itself.
func Identity() Mapping {
	return Mapping{Num: 1, Den: 1}
}

// Shift maps x onto b + (x - xbase) at rate 1/1.
func Shift(xbase, b time.Duration) Mapping {
	return Mapping{XBase: xbase, B: b, Num: 1, Den: 1}
}

func (m Mapping) rate() (uint64, uint64) {
	if m.Num == 0 || m.Den == 0 {
		return 1, 1
	}

	return m.Num, m.Den
}

// Rate returns Num/Den as a float for reporting only.
func (m Mapping) Rate() float64 {
	num, den := m.rate()

	return float64(num) / float64(den)
}

// Adjust applies the mapping. Times before XBase are extrapolated backwards
// and clamped at zero.
func (m Mapping) Adjust(x time.Duration) time.Duration {
	if x < 0 {
		return None
	}

	num, den := m.rate()

	if x >= m.XBase {
		d := scale(uint64(x-m.XBase), num, den)

		return addClamp(m.B, d)
	}

	d := scale(uint64(m.XBase-x), num, den)
	if d >= uint64(m.B) {
		return 0
	}

	return m.B - time.Duration(d)
}

// ScaleDuration scales a duration by the mapping rate.
func (m Mapping) ScaleDuration(d time.Duration) time.Duration {
	if d < 0 {
		return None
	}

	num, den := m.rate()

	return addClamp(0, scale(uint64(d), num, den))
}

// scale computes v*num/den rounded down with a 128 bit intermediate and
// saturates on overflow.
func scale(v, num, den uint64) uint64 {
	hi, lo := bits.Mul64(v, num)
	if hi >= den {
		return math.MaxUint64
	}

	q, _ := bits.Div64(hi, lo, den)

	return q
}

func addClamp(b time.Duration, d uint64) time.Duration {
	if d > uint64(math.MaxInt64) || time.Duration(d) > math.MaxInt64-b {
		return math.MaxInt64
	}

	return b + time.Duration(d)
}

func absDiff(a, b time.Duration) time.Duration {
	if a > b {
		return a - b
	}

	return b - a
}
