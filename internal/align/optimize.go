package align

// minimizeScalarBounded finds an approximate minimiser of f over [lo, hi]
// using golden-section search. This stands in for scipy.optimize's
// bounded minimize_scalar: no library in the example corpus (or a
// reasonable addition to it) offers bounded 1-D scalar minimisation, and
// golden-section search is the standard textbook technique for exactly
// this problem, so it is implemented directly rather than pulled in from
// a dependency.
//
// ok is false if the bracket is degenerate; the search itself always
// "succeeds" once given a valid bracket, matching scipy's behaviour for
// well-posed bounded problems.
func minimizeScalarBounded(f func(float64) float64, lo, hi float64, tol float64, maxIter int) (x float64, ok bool) {
	if !(hi > lo) {
		return 0, false
	}

	const invPhi = 0.6180339887498949 // (sqrt(5)-1)/2

	a, b := lo, hi
	c := b - invPhi*(b-a)
	d := a + invPhi*(b-a)
	fc := f(c)
	fd := f(d)

	for i := 0; i < maxIter && (b-a) > tol; i++ {
		if fc < fd {
			b = d
			d = c
			fd = fc
			c = b - invPhi*(b-a)
			fc = f(c)
		} else {
			a = c
			c = d
			fc = fd
			d = a + invPhi*(b-a)
			fd = f(d)
		}
	}

	return (a + b) / 2, true
}
