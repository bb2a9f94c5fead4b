package mtcrypto

import "math/big"

// DHCheckGenerator verifies that 1 < g < p-1, matching the range check
// the handshake must perform on the server-supplied generator and DH
// prime before trusting them (§4.3).
func DHCheckGenerator(g, p *big.Int) bool {
	one := big.NewInt(1)
	pMinus1 := new(big.Int).Sub(p, one)
	return g.Cmp(one) > 0 && g.Cmp(pMinus1) < 0
}

// DHCheckPublicValue verifies 2^(bitSize-64) <= v <= p - 2^(bitSize-64),
// the bound the handshake applies to both g^a and g^b before accepting
// the handshake (§4.3). Production callers pass bitSize=2048, matching
// Telegram's DH prime; tests may use a smaller bitSize with a smaller
// prime to keep fixtures cheap.
func DHCheckPublicValue(v, p *big.Int, bitSize uint) bool {
	lowBound := new(big.Int).Lsh(big.NewInt(1), bitSize-64)
	highBound := new(big.Int).Sub(p, lowBound)
	return v.Cmp(lowBound) >= 0 && v.Cmp(highBound) <= 0
}

// DHModExp computes base^exp mod p using the standard library's
// constant-time-ish big integer exponentiation. MTProto's handshake
// uses a classic arbitrary-modulus 2048-bit safe prime, a shape none
// of the curve-oriented primitives in the retrieved crypto pack
// (circl, nobs, ctidh) provide a primitive for, so this module uses
// math/big directly here, same as production MTProto client
// implementations do.
func DHModExp(base, exp, p *big.Int) *big.Int {
	return new(big.Int).Exp(base, exp, p)
}
