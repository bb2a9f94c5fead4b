package mtcrypto

import (
	"errors"
	"math/big"
	"math/rand"
	"time"
)

// ErrFactorizationTimeout is returned when FactorizePQ exceeds its time
// budget without finding a factor.
var ErrFactorizationTimeout = errors.New("mtcrypto: factorization timed out")

// DefaultFactorizationBudget is the default time budget for FactorizePQ,
// chosen so a 63-bit semiprime factors in well under it on commodity
// hardware (§4.2).
const DefaultFactorizationBudget = 5 * time.Second

// FactorizePQ returns the smaller prime factor of the semiprime pq
// (pq < 2^63), using Pollard's rho algorithm with Floyd's cycle
// detection (not Brent's). It aborts with ErrFactorizationTimeout once budget elapses.
func FactorizePQ(pq uint64, budget time.Duration) (uint64, error) {
	if pq < 2 {
		return 0, errors.New("mtcrypto: pq must be >= 2")
	}
	if pq%2 == 0 {
		return 2, nil
	}

	n := new(big.Int).SetUint64(pq)
	deadline := time.Now().Add(budget)
	src := rand.New(rand.NewSource(int64(pq)))

	for attempt := 0; ; attempt++ {
		if time.Now().After(deadline) {
			return 0, ErrFactorizationTimeout
		}
		c := big.NewInt(int64(1 + src.Intn(int(n.Int64()-1))))
		if f := brentRho(n, c, deadline); f != nil && f.Cmp(n) != 0 {
			p := f.Uint64()
			if q := pq / p; q < p {
				p = q
			}
			return p, nil
		}
	}
}

// brentRho runs one attempt of Pollard's rho with the given polynomial
// offset c, detecting the cycle Floyd-style (x advances one step per
// round, y two), and returns a nontrivial factor (not necessarily the
// smaller one) or nil if this attempt failed or the deadline passed.
func brentRho(n, c *big.Int, deadline time.Time) *big.Int {
	one := big.NewInt(1)
	x := big.NewInt(2)
	y := big.NewInt(2)
	d := big.NewInt(1)

	f := func(v *big.Int) *big.Int {
		r := new(big.Int).Mul(v, v)
		r.Add(r, c)
		r.Mod(r, n)
		return r
	}

	checkEvery := 64
	steps := 0
	for d.Cmp(one) == 0 {
		x = f(x)
		y = f(f(y))
		diff := new(big.Int).Sub(x, y)
		diff.Abs(diff)
		if diff.Sign() == 0 {
			return nil
		}
		d = new(big.Int).GCD(nil, nil, diff, n)

		steps++
		if steps%checkEvery == 0 && time.Now().After(deadline) {
			return nil
		}
	}
	if d.Cmp(n) == 0 {
		return nil
	}
	return d
}
