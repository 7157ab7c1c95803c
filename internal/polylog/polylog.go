// Package polylog evaluates the polylogarithms Li_s(-e^q) for s = 1, 2, 3
// that appear in the Fermi-Dirac density profile and its derived quantities.
package polylog

import (
	"fmt"
	"math"

	"gonum.org/v1/gonum/mathext"
)

const (
	// taylorTerms is the number of Taylor coefficients kept around q = 0.
	// The series has radius of convergence pi, so at |q| = 1 the last
	// term is far below double precision.
	taylorTerms = 64

	// seriesTerms bounds the direct power series for q < -1 where |z| < 1/e.
	seriesTerms = 200

	pi2over6 = math.Pi * math.Pi / 6
)

// coefficients[s][k] = -eta(s-k) / k! so that Li_s(-e^q) = sum_k c_k q^k
var coefficients = map[int][]float64{}

func init() {
	for _, s := range []int{2, 3} {
		c := make([]float64, taylorTerms)
		fact := 1.0
		for k := 0; k < taylorTerms; k++ {
			if k > 0 {
				fact *= float64(k)
			}
			c[k] = -eta(s-k) / fact
		}
		coefficients[s] = c
	}
}

// LiNegExp returns Li_s(-e^q). Only s in {1, 2, 3} are supported.
func LiNegExp(s int, q float64) (float64, error) {
	if math.IsNaN(q) {
		return math.NaN(), nil
	}
	switch s {
	case 1:
		return li1(q), nil
	case 2:
		return li2(q), nil
	case 3:
		return li3(q), nil
	default:
		return 0, fmt.Errorf("polylog order %d is not supported", s)
	}
}

// Li2 is LiNegExp(2, q).
func Li2(q float64) float64 { return li2(q) }

// Li3 is LiNegExp(3, q).
func Li3(q float64) float64 { return li3(q) }

// li1 is -ln(1+e^q), split so large q does not overflow.
func li1(q float64) float64 {
	if q > 0 {
		return -(q + math.Log1p(math.Exp(-q)))
	}
	return -math.Log1p(math.Exp(q))
}

func li2(q float64) float64 {
	switch {
	case q < -1:
		return direct(2, q)
	case q <= 1:
		return taylor(coefficients[2], q)
	default:
		return -pi2over6 - q*q/2 - direct(2, -q)
	}
}

func li3(q float64) float64 {
	switch {
	case q < -1:
		return direct(3, q)
	case q <= 1:
		return taylor(coefficients[3], q)
	default:
		return direct(3, -q) - pi2over6*q - q*q*q/6
	}
}

// direct sums z^k / k^s with z = -e^q, valid for q < 0.
func direct(s int, q float64) float64 {
	z := -math.Exp(q)
	if z == 0 {
		return 0
	}
	sum := 0.0
	zk := 1.0
	for k := 1; k <= seriesTerms; k++ {
		zk *= z
		kf := float64(k)
		den := kf
		for i := 1; i < s; i++ {
			den *= kf
		}
		term := zk / den
		sum += term
		if math.Abs(term) <= 1e-17*math.Abs(sum) {
			break
		}
	}
	return sum
}

// taylor evaluates the polynomial with Horner's rule.
func taylor(c []float64, q float64) float64 {
	sum := 0.0
	for k := len(c) - 1; k >= 0; k-- {
		sum = sum*q + c[k]
	}
	return sum
}

// eta is the Dirichlet eta function at integer n, so that Li_n(-1) = -eta(n).
func eta(n int) float64 {
	switch {
	case n >= 2:
		return (1 - math.Pow(2, float64(1-n))) * mathext.Zeta(float64(n), 1)
	case n == 1:
		return math.Ln2
	case n == 0:
		return 0.5
	default:
		m := -n
		return (math.Pow(2, float64(m+1)) - 1) * bernoulli(m+1) / float64(m+1)
	}
}

// bernoulli returns B_n for n >= 1 with the B_1 = -1/2 convention.
// Even indices come from zeta: B_2m = (-1)^(m+1) 2 (2m)! zeta(2m) / (2 pi)^2m.
func bernoulli(n int) float64 {
	switch {
	case n == 1:
		return -0.5
	case n%2 == 1:
		return 0
	}
	m := n / 2
	sign := 1.0
	if m%2 == 0 {
		sign = -1
	}
	fact, _ := math.Lgamma(float64(n + 1))
	logMag := math.Ln2 + fact - float64(n)*math.Log(2*math.Pi)
	return sign * math.Exp(logMag) * mathext.Zeta(float64(n), 1)
}
