package frost

import "math/big"

// lagrangeCoefficient computes λ_i for participant index `self` within the
// ordered set `indices`, mod the group order n. This is the standard
// FROST/Shamir coefficient; it is used only to weight each selected signer's
// share during signing. DKG shares are combined by plain summation, which
// needs no Lagrange step.
func lagrangeCoefficient(self int, indices []int, n *big.Int) *big.Int {
	num := big.NewInt(1)
	den := big.NewInt(1)
	selfB := big.NewInt(int64(self))

	for _, j := range indices {
		if j == self {
			continue
		}
		jB := big.NewInt(int64(j))

		// num *= (0 - j) = -j
		term := new(big.Int).Neg(jB)
		term.Mod(term, n)
		num.Mul(num, term)
		num.Mod(num, n)

		// den *= (self - j)
		dterm := new(big.Int).Sub(selfB, jB)
		dterm.Mod(dterm, n)
		den.Mul(den, dterm)
		den.Mod(den, n)
	}

	denInv := new(big.Int).ModInverse(den, n)
	if denInv == nil {
		// den is zero mod n only if some index differs from self yet is
		// congruent to it mod n; callers never construct such a set, but
		// fall back to zero rather than panic.
		return big.NewInt(0)
	}
	coeff := new(big.Int).Mul(num, denInv)
	coeff.Mod(coeff, n)
	return coeff
}
