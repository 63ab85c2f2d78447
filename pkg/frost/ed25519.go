package frost

import (
	"crypto/rand"
	"crypto/sha512"
	"fmt"
	"math/big"

	"github.com/decred/dcrd/dcrec/edwards/v2"
	"github.com/mr-tron/base58"

	"github.com/frostmesh/node/pkg/config"
	"github.com/frostmesh/node/pkg/types"
)

// ed25519Suite implements Suite over the twisted Edwards curve used by
// Solana-style Ed25519 keys, grounded in the same Pedersen-Feldman VSS
// shape as the teacher's BLS12-381 DKG (pkg/dkg/dkg.go), generalized to a
// prime-order scalar field via github.com/decred/dcrd/dcrec/edwards/v2 —
// the library the pack's bnb-chain-tss-lib threshold-EdDSA implementation
// builds on.
type ed25519Suite struct {
	curve *edwards.TwistedEdwardsCurve
}

// NewEd25519Suite constructs the Ed25519 FROST adapter.
func NewEd25519Suite() Suite {
	return &ed25519Suite{curve: edwards.Edwards()}
}

func (s *ed25519Suite) CurveType() config.CurveType { return config.CurveTypeEd25519 }

func (s *ed25519Suite) NewDkgSession(participantIndex, threshold, total int) DkgSession {
	return &ed25519DkgSession{
		suite:            s,
		participantIndex: participantIndex,
		threshold:        threshold,
		total:            total,
		commitments:      make(map[int][]edPoint),
		round2Shares:     make(map[int]*big.Int),
	}
}

func (s *ed25519Suite) NewSigningSession(participantIndex int, selected []int, km *types.KeyMaterial) (SigningSession, error) {
	if km.Curve != config.CurveTypeEd25519 {
		return nil, fmt.Errorf("frost: key material is for curve %q, not ed25519", km.Curve)
	}
	share := new(big.Int).SetBytes(km.PrivateShare)
	gpkX, gpkY, err := s.decodePoint(km.GroupPublicKey)
	if err != nil {
		return nil, fmt.Errorf("frost: decode group public key: %w", err)
	}
	return &ed25519SigningSession{
		suite:            s,
		participantIndex: participantIndex,
		selected:         selected,
		share:            share,
		groupPubX:        gpkX,
		groupPubY:        gpkY,
		commitments:      make(map[int]edCommitment),
		shares:           make(map[int]*big.Int),
	}, nil
}

// Address derives a Solana-style base58 address from a compressed group
// public key.
func (s *ed25519Suite) Address(groupPublicKey []byte) (string, error) {
	if len(groupPublicKey) != 32 {
		return "", fmt.Errorf("frost: ed25519 group public key must be 32 bytes, got %d", len(groupPublicKey))
	}
	return base58.Encode(groupPublicKey), nil
}

type edPoint struct{ X, Y *big.Int }

func (s *ed25519Suite) order() *big.Int { return s.curve.Params().N }

func (s *ed25519Suite) randScalar() (*big.Int, error) {
	n := s.order()
	k, err := rand.Int(rand.Reader, n)
	if err != nil {
		return nil, err
	}
	return k, nil
}

func (s *ed25519Suite) encodePoint(x, y *big.Int) []byte {
	pub := edwards.NewPublicKey(s.curve, x, y)
	return pub.Serialize()
}

func (s *ed25519Suite) decodePoint(b []byte) (*big.Int, *big.Int, error) {
	pub, err := edwards.ParsePubKey(b)
	if err != nil {
		return nil, nil, err
	}
	return pub.X, pub.Y, nil
}

// challengeHash binds the participant index, its commitments, and its
// Schnorr nonce point into a scalar challenge, per the DKG proof-of-
// knowledge step that prevents rogue-key attacks.
func (s *ed25519Suite) challengeHash(participantIndex int, commitments [][]byte, r []byte) *big.Int {
	h := sha512.New()
	fmt.Fprintf(h, "frostmesh-ed25519-dkg-pok:%d", participantIndex)
	for _, c := range commitments {
		h.Write(c)
	}
	h.Write(r)
	digest := h.Sum(nil)
	c := new(big.Int).SetBytes(digest)
	return c.Mod(c, s.order())
}

func evalPoly(coeffs []*big.Int, x int, n *big.Int) *big.Int {
	xB := big.NewInt(int64(x))
	result := new(big.Int)
	power := big.NewInt(1)
	for _, c := range coeffs {
		term := new(big.Int).Mul(c, power)
		result.Add(result, term)
		power.Mul(power, xB)
		power.Mod(power, n)
	}
	return result.Mod(result, n)
}

type ed25519DkgSession struct {
	suite            *ed25519Suite
	participantIndex int
	threshold        int
	total            int

	coeffs       []*big.Int
	commitments  map[int][]edPoint // sender participant index -> polynomial commitments
	ownShare     *big.Int
	round2Shares map[int]*big.Int // sender participant index -> share received for us
}

func (d *ed25519DkgSession) GenerateRound1() (Round1Package, error) {
	n := d.suite.order()
	coeffs := make([]*big.Int, d.threshold)
	commitments := make([]edPoint, d.threshold)
	commitBytes := make([][]byte, d.threshold)
	for k := 0; k < d.threshold; k++ {
		c, err := d.suite.randScalar()
		if err != nil {
			return Round1Package{}, fmt.Errorf("frost: generate coefficient: %w", err)
		}
		coeffs[k] = c
		x, y := d.suite.curve.ScalarBaseMult(c.Bytes())
		commitments[k] = edPoint{X: x, Y: y}
		commitBytes[k] = d.suite.encodePoint(x, y)
	}
	d.coeffs = coeffs

	kNonce, err := d.suite.randScalar()
	if err != nil {
		return Round1Package{}, fmt.Errorf("frost: generate pok nonce: %w", err)
	}
	rx, ry := d.suite.curve.ScalarBaseMult(kNonce.Bytes())
	rBytes := d.suite.encodePoint(rx, ry)
	c := d.suite.challengeHash(d.participantIndex, commitBytes, rBytes)
	z := new(big.Int).Mul(c, coeffs[0])
	z.Add(z, kNonce)
	z.Mod(z, n)

	d.commitments[d.participantIndex] = commitments

	return Round1Package{
		SenderIndex: d.participantIndex,
		Commitments: commitBytes,
		ProofR:      rBytes,
		ProofZ:      z.Bytes(),
	}, nil
}

func (d *ed25519DkgSession) AddRound1Package(pkg Round1Package) error {
	if _, ok := d.commitments[pkg.SenderIndex]; ok {
		return nil // already added; invariant: at most once
	}
	n := d.suite.order()
	points := make([]edPoint, len(pkg.Commitments))
	for i, cb := range pkg.Commitments {
		x, y, err := d.suite.decodePoint(cb)
		if err != nil {
			return fmt.Errorf("frost: decode commitment from %d: %w", pkg.SenderIndex, err)
		}
		points[i] = edPoint{X: x, Y: y}
	}

	c := d.suite.challengeHash(pkg.SenderIndex, pkg.Commitments, pkg.ProofR)
	z := new(big.Int).SetBytes(pkg.ProofZ)
	lx, ly := d.suite.curve.ScalarBaseMult(z.Bytes())

	rx, ry, err := d.suite.decodePoint(pkg.ProofR)
	if err != nil {
		return fmt.Errorf("frost: decode proof point from %d: %w", pkg.SenderIndex, err)
	}
	cx, cy := d.suite.curve.ScalarMult(points[0].X, points[0].Y, c.Bytes())
	ex, ey := d.suite.curve.Add(rx, ry, cx, cy)

	if lx.Cmp(ex) != 0 || ly.Cmp(ey) != 0 {
		return fmt.Errorf("frost: proof of knowledge failed for sender %d", pkg.SenderIndex)
	}
	_ = n

	d.commitments[pkg.SenderIndex] = points
	return nil
}

func (d *ed25519DkgSession) CanStartRound2() bool {
	return len(d.commitments) == d.total
}

func (d *ed25519DkgSession) GenerateRound2() (map[int]Round2Package, error) {
	if !d.CanStartRound2() {
		return nil, fmt.Errorf("frost: round-2 requested before every round-1 package was added")
	}
	n := d.suite.order()
	out := make(map[int]Round2Package, d.total-1)
	for j := 1; j <= d.total; j++ {
		share := evalPoly(d.coeffs, j, n)
		if j == d.participantIndex {
			d.ownShare = share
			continue
		}
		out[j] = Round2Package{
			SenderIndex:    d.participantIndex,
			RecipientIndex: j,
			Share:          share.Bytes(),
		}
	}
	return out, nil
}

func (d *ed25519DkgSession) AddRound2Package(pkg Round2Package) error {
	if pkg.RecipientIndex != d.participantIndex {
		return fmt.Errorf("frost: round-2 package addressed to participant %d, not %d", pkg.RecipientIndex, d.participantIndex)
	}
	if _, ok := d.round2Shares[pkg.SenderIndex]; ok {
		return nil
	}
	n := d.suite.order()
	share := new(big.Int).SetBytes(pkg.Share)

	commitments, ok := d.commitments[pkg.SenderIndex]
	if !ok {
		return fmt.Errorf("frost: no round-1 commitments on file for sender %d", pkg.SenderIndex)
	}
	lx, ly := d.suite.curve.ScalarBaseMult(share.Bytes())

	jB := big.NewInt(int64(d.participantIndex))
	power := big.NewInt(1)
	rx, ry := commitments[0].X, commitments[0].Y
	for k := 1; k < len(commitments); k++ {
		power.Mul(power, jB)
		power.Mod(power, n)
		tx, ty := d.suite.curve.ScalarMult(commitments[k].X, commitments[k].Y, power.Bytes())
		rx, ry = d.suite.curve.Add(rx, ry, tx, ty)
	}

	if lx.Cmp(rx) != 0 || ly.Cmp(ry) != 0 {
		return fmt.Errorf("frost: share from %d failed Feldman verification", pkg.SenderIndex)
	}

	d.round2Shares[pkg.SenderIndex] = share
	return nil
}

func (d *ed25519DkgSession) CanFinalize() bool {
	return len(d.round2Shares) == d.total-1
}

func (d *ed25519DkgSession) Finalize() (*FrostKeyResult, error) {
	if !d.CanFinalize() {
		return nil, fmt.Errorf("frost: finalize requested before every round-2 package was added")
	}
	if d.ownShare == nil {
		return nil, fmt.Errorf("frost: round-2 was never generated locally")
	}
	n := d.suite.order()
	privateShare := new(big.Int).Set(d.ownShare)
	for _, share := range d.round2Shares {
		privateShare.Add(privateShare, share)
	}
	privateShare.Mod(privateShare, n)

	var gx, gy *big.Int
	for i := 1; i <= d.total; i++ {
		c, ok := d.commitments[i]
		if !ok {
			return nil, fmt.Errorf("frost: missing commitments for participant %d at finalize", i)
		}
		if gx == nil {
			gx, gy = c[0].X, c[0].Y
			continue
		}
		gx, gy = d.suite.curve.Add(gx, gy, c[0].X, c[0].Y)
	}

	groupPub := d.suite.encodePoint(gx, gy)
	addr, err := d.suite.Address(groupPub)
	if err != nil {
		return nil, err
	}

	return &FrostKeyResult{
		GroupPublicKey: groupPub,
		PrivateShare:   fixedBytes(privateShare, 32),
		Address:        addr,
	}, nil
}

func fixedBytes(v *big.Int, size int) []byte {
	b := v.Bytes()
	if len(b) >= size {
		return b[len(b)-size:]
	}
	out := make([]byte, size)
	copy(out[size-len(b):], b)
	return out
}

type edCommitment struct{ D, E edPoint }

type ed25519SigningSession struct {
	suite            *ed25519Suite
	participantIndex int
	selected         []int
	share            *big.Int
	groupPubX        *big.Int
	groupPubY        *big.Int

	d, e        *big.Int
	commitments map[int]edCommitment
	shares      map[int]*big.Int
}

func (s *ed25519SigningSession) Commit() (Commitment, error) {
	d, err := s.suite.randScalar()
	if err != nil {
		return Commitment{}, err
	}
	e, err := s.suite.randScalar()
	if err != nil {
		return Commitment{}, err
	}
	s.d, s.e = d, e

	dx, dy := s.suite.curve.ScalarBaseMult(d.Bytes())
	ex, ey := s.suite.curve.ScalarBaseMult(e.Bytes())
	dBytes := s.suite.encodePoint(dx, dy)
	eBytes := s.suite.encodePoint(ex, ey)

	s.commitments[s.participantIndex] = edCommitment{D: edPoint{dx, dy}, E: edPoint{ex, ey}}

	return Commitment{SenderIndex: s.participantIndex, D: dBytes, E: eBytes}, nil
}

func (s *ed25519SigningSession) AddCommitment(c Commitment) error {
	if _, ok := s.commitments[c.SenderIndex]; ok {
		return nil
	}
	dx, dy, err := s.suite.decodePoint(c.D)
	if err != nil {
		return fmt.Errorf("frost: decode commitment D from %d: %w", c.SenderIndex, err)
	}
	ex, ey, err := s.suite.decodePoint(c.E)
	if err != nil {
		return fmt.Errorf("frost: decode commitment E from %d: %w", c.SenderIndex, err)
	}
	s.commitments[c.SenderIndex] = edCommitment{D: edPoint{dx, dy}, E: edPoint{ex, ey}}
	return nil
}

// bindingFactor and groupCommitment together implement the FROST nonce
// aggregation step: each signer's contribution is weighted by a per-signer
// hash of the full commitment list before summation, preventing a
// Wagner-style forgery against naive nonce addition.
func (s *ed25519SigningSession) bindingFactor(signer int, message []byte) *big.Int {
	h := sha512.New()
	fmt.Fprintf(h, "frostmesh-ed25519-binding:%d", signer)
	h.Write(message)
	for _, i := range s.selected {
		if c, ok := s.commitments[i]; ok {
			h.Write(s.suite.encodePoint(c.D.X, c.D.Y))
			h.Write(s.suite.encodePoint(c.E.X, c.E.Y))
		}
	}
	digest := h.Sum(nil)
	rho := new(big.Int).SetBytes(digest)
	return rho.Mod(rho, s.suite.order())
}

func (s *ed25519SigningSession) groupCommitment(message []byte) (*big.Int, *big.Int, error) {
	n := s.suite.order()
	var rx, ry *big.Int
	for _, signer := range s.selected {
		c, ok := s.commitments[signer]
		if !ok {
			return nil, nil, fmt.Errorf("frost: missing commitment from signer %d", signer)
		}
		rho := s.bindingFactor(signer, message)
		ex, ey := s.suite.curve.ScalarMult(c.E.X, c.E.Y, rho.Bytes())
		px, py := s.suite.curve.Add(c.D.X, c.D.Y, ex, ey)
		if rx == nil {
			rx, ry = px, py
		} else {
			rx, ry = s.suite.curve.Add(rx, ry, px, py)
		}
	}
	_ = n
	return rx, ry, nil
}

func (s *ed25519SigningSession) challenge(rx, ry *big.Int, message []byte) *big.Int {
	h := sha512.New()
	h.Write(s.suite.encodePoint(rx, ry))
	h.Write(s.suite.encodePoint(s.groupPubX, s.groupPubY))
	h.Write(message)
	digest := h.Sum(nil)
	// RFC 8032 reads the SHA-512 digest as a little-endian integer.
	for i, j := 0, len(digest)-1; i < j; i, j = i+1, j-1 {
		digest[i], digest[j] = digest[j], digest[i]
	}
	c := new(big.Int).SetBytes(digest)
	return c.Mod(c, s.suite.order())
}

func (s *ed25519SigningSession) Sign(message []byte) (Share, error) {
	n := s.suite.order()
	rx, ry, err := s.groupCommitment(message)
	if err != nil {
		return Share{}, err
	}
	c := s.challenge(rx, ry, message)
	rho := s.bindingFactor(s.participantIndex, message)
	lambda := lagrangeCoefficient(s.participantIndex, s.selected, n)

	z := new(big.Int).Mul(s.e, rho)
	z.Add(z, s.d)
	term := new(big.Int).Mul(lambda, s.share)
	term.Mul(term, c)
	z.Add(z, term)
	z.Mod(z, n)

	s.shares[s.participantIndex] = z
	return Share{SenderIndex: s.participantIndex, Z: fixedBytes(z, 32)}, nil
}

func (s *ed25519SigningSession) AddShare(sh Share) error {
	if _, ok := s.shares[sh.SenderIndex]; ok {
		return nil
	}
	s.shares[sh.SenderIndex] = new(big.Int).SetBytes(sh.Z)
	return nil
}

func (s *ed25519SigningSession) Aggregate(message []byte) ([]byte, error) {
	n := s.suite.order()
	rx, ry, err := s.groupCommitment(message)
	if err != nil {
		return nil, err
	}
	z := new(big.Int)
	for _, signer := range s.selected {
		share, ok := s.shares[signer]
		if !ok {
			return nil, fmt.Errorf("frost: missing signature share from signer %d", signer)
		}
		z.Add(z, share)
	}
	z.Mod(z, n)

	c := s.challenge(rx, ry, message)
	lx, ly := s.suite.curve.ScalarBaseMult(z.Bytes())
	cx, cy := s.suite.curve.ScalarMult(s.groupPubX, s.groupPubY, c.Bytes())
	ex, ey := s.suite.curve.Add(rx, ry, cx, cy)
	if lx.Cmp(ex) != 0 || ly.Cmp(ey) != 0 {
		return nil, fmt.Errorf("frost: aggregated signature failed local verification")
	}

	sig := make([]byte, 64)
	copy(sig[0:32], s.suite.encodePoint(rx, ry))
	// RFC 8032 encodes S as a 32-byte little-endian integer.
	zLE := fixedBytes(z, 32)
	for i, j := 0, len(zLE)-1; i < j; i, j = i+1, j-1 {
		zLE[i], zLE[j] = zLE[j], zLE[i]
	}
	copy(sig[32:64], zLE)
	return sig, nil
}
