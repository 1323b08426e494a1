package timing

import (
	"errors"
	"math/big"
	"time"
)

// maxRateBits bounds Num and Den so Mapping.Adjust keeps its 128 bit
// intermediate below the divisor for any realistic x range.
const maxRateBits = 62

var (
	ErrTooFewSamples = errors.New("at least two samples required")
	ErrDegenerate    = errors.New("samples have no x variance")
	ErrNonIncreasing = errors.New("fitted rate is not positive")
)

// Sample pairs a device stream time X with the pipeline capture time Y
// observed for the same frame.
type Sample struct {
	X time.Duration
	Y time.Duration
}

// Regression is the least squares line through a sample set, expressed
// relative to XBase, the floored mean of x.
type Regression struct {
	Num      uint64
	Den      uint64
	B        time.Duration
	XBase    time.Duration
	RSquared float64
}

// Mapping returns the regression as a time mapping.
func (r Regression) Mapping() Mapping {
	return Mapping{XBase: r.XBase, B: r.B, Num: r.Num, Den: r.Den}
}

// Fit computes the ordinary least squares slope of y over x as an exact
// rational. The slope is reduced, and shifted down only when it cannot be
// held in 62 bits.
func Fit(samples []Sample) (Regression, error) {
	n := len(samples)
	if n < 2 {
		return Regression{}, ErrTooFewSamples
	}

	xmin, ymin := samples[0].X, samples[0].Y
	for _, s := range samples[1:] {
		if s.X < xmin {
			xmin = s.X
		}

		if s.Y < ymin {
			ymin = s.Y
		}
	}

	var sx, sy, sxx, sxy, syy, t big.Int

	for _, s := range samples {
		dx := big.NewInt(int64(s.X - xmin))
		dy := big.NewInt(int64(s.Y - ymin))

		sx.Add(&sx, dx)
		sy.Add(&sy, dy)
		sxx.Add(&sxx, t.Mul(dx, dx))
		sxy.Add(&sxy, t.Mul(dx, dy))
		syy.Add(&syy, t.Mul(dy, dy))
	}

	nn := big.NewInt(int64(n))

	// n-scaled (co)variances keep everything integral.
	vxx := new(big.Int).Sub(new(big.Int).Mul(nn, &sxx), new(big.Int).Mul(&sx, &sx))
	if vxx.Sign() == 0 {
		return Regression{}, ErrDegenerate
	}

	vxy := new(big.Int).Sub(new(big.Int).Mul(nn, &sxy), new(big.Int).Mul(&sx, &sy))
	if vxy.Sign() <= 0 {
		return Regression{}, ErrNonIncreasing
	}

	vyy := new(big.Int).Sub(new(big.Int).Mul(nn, &syy), new(big.Int).Mul(&sy, &sy))

	slope := new(big.Rat).SetFrac(vxy, vxx)

	// intercept at the floored x mean: b = ybar + slope*(q - xbar)
	q := new(big.Int).Quo(&sx, nn)
	xbar := new(big.Rat).SetFrac(&sx, nn)
	ybar := new(big.Rat).SetFrac(&sy, nn)
	off := new(big.Rat).Sub(new(big.Rat).SetInt(q), xbar)
	b := new(big.Rat).Add(ybar, off.Mul(off, slope))

	num, den := reduce(slope)
	if num == 0 || den == 0 {
		return Regression{}, ErrDegenerate
	}

	r2 := 1.0
	if vyy.Sign() > 0 {
		c := new(big.Int).Mul(vxy, vxy)
		d := new(big.Int).Mul(vxx, vyy)
		r2, _ = new(big.Rat).SetFrac(c, d).Float64()
	}

	return Regression{
		Num:      num,
		Den:      den,
		B:        ymin + time.Duration(round(b).Int64()),
		XBase:    xmin + time.Duration(q.Int64()),
		RSquared: r2,
	}, nil
}

func reduce(r *big.Rat) (uint64, uint64) {
	num := new(big.Int).Set(r.Num())
	den := new(big.Int).Set(r.Denom())

	bl := num.BitLen()
	if den.BitLen() > bl {
		bl = den.BitLen()
	}

	if bl > maxRateBits {
		shift := uint(bl - maxRateBits)
		num.Rsh(num, shift)
		den.Rsh(den, shift)
	}

	return num.Uint64(), den.Uint64()
}

// round returns the nearest integer, halves rounded up.
func round(r *big.Rat) *big.Int {
	half := big.NewRat(1, 2)
	v := new(big.Rat).Add(r, half)

	return new(big.Int).Div(v.Num(), v.Denom())
}
