package frost

import (
	"crypto/rand"
	"fmt"
	"math/big"

	"github.com/decred/dcrd/dcrec/secp256k1/v4"
	ethcrypto "github.com/ethereum/go-ethereum/crypto"
	"golang.org/x/crypto/sha3"

	"github.com/frostmesh/node/pkg/config"
	"github.com/frostmesh/node/pkg/types"
)

// secp256k1Suite implements Suite for Ethereum-style secp256k1 keys,
// producing BIP-340-flavored 64-byte Schnorr signatures rather than ECDSA,
// following the taproot-style nonce/commitment round design the pack's
// luxfi-threshold FROST implementation uses
// (protocols/frost/sign/round1.go). Scalar/point arithmetic is
// github.com/decred/dcrd/dcrec/secp256k1/v4, already an indirect
// dependency of the teacher.
type secp256k1Suite struct {
	order *big.Int
}

// NewSecp256k1Suite constructs the secp256k1 FROST adapter.
func NewSecp256k1Suite() Suite {
	return &secp256k1Suite{order: new(big.Int).Set(secp256k1.S256().N)}
}

func (s *secp256k1Suite) CurveType() config.CurveType { return config.CurveTypeSecp256k1 }

func (s *secp256k1Suite) NewDkgSession(participantIndex, threshold, total int) DkgSession {
	return &secpDkgSession{
		suite:            s,
		participantIndex: participantIndex,
		threshold:        threshold,
		total:            total,
		commitments:      make(map[int][]secpPoint),
		round2Shares:     make(map[int]*big.Int),
	}
}

func (s *secp256k1Suite) NewSigningSession(participantIndex int, selected []int, km *types.KeyMaterial) (SigningSession, error) {
	if km.Curve != config.CurveTypeSecp256k1 {
		return nil, fmt.Errorf("frost: key material is for curve %q, not secp256k1", km.Curve)
	}
	share := new(big.Int).SetBytes(km.PrivateShare)
	gx, gy, err := s.decodePoint(km.GroupPublicKey)
	if err != nil {
		return nil, fmt.Errorf("frost: decode group public key: %w", err)
	}
	return &secpSigningSession{
		suite:            s,
		participantIndex: participantIndex,
		selected:         selected,
		share:            share,
		groupPubX:        gx,
		groupPubY:        gy,
		commitments:      make(map[int]secpCommitment),
		shares:           make(map[int]*big.Int),
	}, nil
}

// Address derives the standard Ethereum address: the low 20 bytes of
// Keccak256 of the uncompressed public key, exactly as the teacher's
// addressToNodeID helper (pkg/dkg/dkg.go) hashes addresses with
// ethcrypto.Keccak256.
func (s *secp256k1Suite) Address(groupPublicKey []byte) (string, error) {
	x, y, err := s.decodePoint(groupPublicKey)
	if err != nil {
		return "", err
	}
	uncompressed := uncompressedXY(x, y)
	hash := ethcrypto.Keccak256(uncompressed[1:]) // drop the 0x04 prefix before hashing
	return fmt.Sprintf("0x%x", hash[12:]), nil
}

type secpPoint struct{ X, Y *big.Int }

func uncompressedXY(x, y *big.Int) []byte {
	out := make([]byte, 65)
	out[0] = 0x04
	xb := x.Bytes()
	yb := y.Bytes()
	copy(out[1+32-len(xb):33], xb)
	copy(out[33+32-len(yb):65], yb)
	return out
}

func (s *secp256k1Suite) encodePoint(x, y *big.Int) []byte {
	var fx, fy secp256k1.FieldVal
	fx.SetByteSlice(fixedBytes(x, 32))
	fy.SetByteSlice(fixedBytes(y, 32))
	pub := secp256k1.NewPublicKey(&fx, &fy)
	return pub.SerializeCompressed()
}

func (s *secp256k1Suite) decodePoint(b []byte) (*big.Int, *big.Int, error) {
	pub, err := secp256k1.ParsePubKey(b)
	if err != nil {
		return nil, nil, err
	}
	x := pub.X()
	y := pub.Y()
	return new(big.Int).SetBytes(x.Bytes()[:]), new(big.Int).SetBytes(y.Bytes()[:]), nil
}

func (s *secp256k1Suite) randScalar() (*big.Int, error) {
	return rand.Int(rand.Reader, s.order)
}

func (s *secp256k1Suite) scalarBaseMult(k *big.Int) (*big.Int, *big.Int) {
	var kScalar secp256k1.ModNScalar
	kScalar.SetByteSlice(fixedBytes(k, 32))
	var result secp256k1.JacobianPoint
	secp256k1.ScalarBaseMultNonConst(&kScalar, &result)
	result.ToAffine()
	return new(big.Int).SetBytes(result.X.Bytes()[:]), new(big.Int).SetBytes(result.Y.Bytes()[:])
}

func (s *secp256k1Suite) scalarMult(x, y, k *big.Int) (*big.Int, *big.Int) {
	var px, py secp256k1.FieldVal
	px.SetByteSlice(fixedBytes(x, 32))
	py.SetByteSlice(fixedBytes(y, 32))
	var point secp256k1.JacobianPoint
	point.X, point.Y = px, py
	point.Z.SetInt(1)

	var kScalar secp256k1.ModNScalar
	kScalar.SetByteSlice(fixedBytes(k, 32))

	var result secp256k1.JacobianPoint
	secp256k1.ScalarMultNonConst(&kScalar, &point, &result)
	result.ToAffine()
	return new(big.Int).SetBytes(result.X.Bytes()[:]), new(big.Int).SetBytes(result.Y.Bytes()[:])
}

func (s *secp256k1Suite) add(x1, y1, x2, y2 *big.Int) (*big.Int, *big.Int) {
	var p1, p2, result secp256k1.JacobianPoint
	var fx1, fy1, fx2, fy2 secp256k1.FieldVal
	fx1.SetByteSlice(fixedBytes(x1, 32))
	fy1.SetByteSlice(fixedBytes(y1, 32))
	fx2.SetByteSlice(fixedBytes(x2, 32))
	fy2.SetByteSlice(fixedBytes(y2, 32))
	p1.X, p1.Y = fx1, fy1
	p1.Z.SetInt(1)
	p2.X, p2.Y = fx2, fy2
	p2.Z.SetInt(1)
	secp256k1.AddNonConst(&p1, &p2, &result)
	result.ToAffine()
	return new(big.Int).SetBytes(result.X.Bytes()[:]), new(big.Int).SetBytes(result.Y.Bytes()[:])
}

// challengeHash uses Keccak (sha3), already pulled in transitively by
// go-ethereum, standing in for BIP-340's tagged SHA-256 challenge — a
// deliberate, documented deviation from strict BIP-340 (see DESIGN.md).
func challengeHashSecp(parts ...[]byte) *big.Int {
	h := sha3.NewLegacyKeccak256()
	for _, p := range parts {
		h.Write(p)
	}
	digest := h.Sum(nil)
	return new(big.Int).SetBytes(digest)
}

func (s *secp256k1Suite) reduce(v *big.Int) *big.Int {
	return new(big.Int).Mod(v, s.order)
}

type secpDkgSession struct {
	suite            *secp256k1Suite
	participantIndex int
	threshold        int
	total            int

	coeffs       []*big.Int
	commitments  map[int][]secpPoint
	ownShare     *big.Int
	round2Shares map[int]*big.Int
}

func (d *secpDkgSession) GenerateRound1() (Round1Package, error) {
	coeffs := make([]*big.Int, d.threshold)
	commitments := make([]secpPoint, d.threshold)
	commitBytes := make([][]byte, d.threshold)
	for k := 0; k < d.threshold; k++ {
		c, err := d.suite.randScalar()
		if err != nil {
			return Round1Package{}, fmt.Errorf("frost: generate coefficient: %w", err)
		}
		coeffs[k] = c
		x, y := d.suite.scalarBaseMult(c)
		commitments[k] = secpPoint{X: x, Y: y}
		commitBytes[k] = d.suite.encodePoint(x, y)
	}
	d.coeffs = coeffs

	kNonce, err := d.suite.randScalar()
	if err != nil {
		return Round1Package{}, fmt.Errorf("frost: generate pok nonce: %w", err)
	}
	rx, ry := d.suite.scalarBaseMult(kNonce)
	rBytes := d.suite.encodePoint(rx, ry)

	c := d.suite.reduce(challengeHashSecp([]byte(fmt.Sprintf("frostmesh-secp256k1-dkg-pok:%d", d.participantIndex)), concat(commitBytes), rBytes))
	z := new(big.Int).Mul(c, coeffs[0])
	z.Add(z, kNonce)
	z = d.suite.reduce(z)

	d.commitments[d.participantIndex] = commitments

	return Round1Package{
		SenderIndex: d.participantIndex,
		Commitments: commitBytes,
		ProofR:      rBytes,
		ProofZ:      z.Bytes(),
	}, nil
}

func concat(parts [][]byte) []byte {
	var out []byte
	for _, p := range parts {
		out = append(out, p...)
	}
	return out
}

func (d *secpDkgSession) AddRound1Package(pkg Round1Package) error {
	if _, ok := d.commitments[pkg.SenderIndex]; ok {
		return nil
	}
	points := make([]secpPoint, len(pkg.Commitments))
	for i, cb := range pkg.Commitments {
		x, y, err := d.suite.decodePoint(cb)
		if err != nil {
			return fmt.Errorf("frost: decode commitment from %d: %w", pkg.SenderIndex, err)
		}
		points[i] = secpPoint{X: x, Y: y}
	}

	c := d.suite.reduce(challengeHashSecp([]byte(fmt.Sprintf("frostmesh-secp256k1-dkg-pok:%d", pkg.SenderIndex)), concat(pkg.Commitments), pkg.ProofR))
	z := new(big.Int).SetBytes(pkg.ProofZ)
	lx, ly := d.suite.scalarBaseMult(z)

	rx, ry, err := d.suite.decodePoint(pkg.ProofR)
	if err != nil {
		return fmt.Errorf("frost: decode proof point from %d: %w", pkg.SenderIndex, err)
	}
	cx, cy := d.suite.scalarMult(points[0].X, points[0].Y, c)
	ex, ey := d.suite.add(rx, ry, cx, cy)

	if lx.Cmp(ex) != 0 || ly.Cmp(ey) != 0 {
		return fmt.Errorf("frost: proof of knowledge failed for sender %d", pkg.SenderIndex)
	}

	d.commitments[pkg.SenderIndex] = points
	return nil
}

func (d *secpDkgSession) CanStartRound2() bool {
	return len(d.commitments) == d.total
}

func (d *secpDkgSession) GenerateRound2() (map[int]Round2Package, error) {
	if !d.CanStartRound2() {
		return nil, fmt.Errorf("frost: round-2 requested before every round-1 package was added")
	}
	out := make(map[int]Round2Package, d.total-1)
	for j := 1; j <= d.total; j++ {
		share := evalPoly(d.coeffs, j, d.suite.order)
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

func (d *secpDkgSession) AddRound2Package(pkg Round2Package) error {
	if pkg.RecipientIndex != d.participantIndex {
		return fmt.Errorf("frost: round-2 package addressed to participant %d, not %d", pkg.RecipientIndex, d.participantIndex)
	}
	if _, ok := d.round2Shares[pkg.SenderIndex]; ok {
		return nil
	}
	share := new(big.Int).SetBytes(pkg.Share)
	commitments, ok := d.commitments[pkg.SenderIndex]
	if !ok {
		return fmt.Errorf("frost: no round-1 commitments on file for sender %d", pkg.SenderIndex)
	}
	lx, ly := d.suite.scalarBaseMult(share)

	jB := big.NewInt(int64(d.participantIndex))
	power := big.NewInt(1)
	rx, ry := commitments[0].X, commitments[0].Y
	for k := 1; k < len(commitments); k++ {
		power.Mul(power, jB)
		power = d.suite.reduce(power)
		tx, ty := d.suite.scalarMult(commitments[k].X, commitments[k].Y, power)
		rx, ry = d.suite.add(rx, ry, tx, ty)
	}

	if lx.Cmp(rx) != 0 || ly.Cmp(ry) != 0 {
		return fmt.Errorf("frost: share from %d failed Feldman verification", pkg.SenderIndex)
	}

	d.round2Shares[pkg.SenderIndex] = share
	return nil
}

func (d *secpDkgSession) CanFinalize() bool {
	return len(d.round2Shares) == d.total-1
}

func (d *secpDkgSession) Finalize() (*FrostKeyResult, error) {
	if !d.CanFinalize() {
		return nil, fmt.Errorf("frost: finalize requested before every round-2 package was added")
	}
	if d.ownShare == nil {
		return nil, fmt.Errorf("frost: round-2 was never generated locally")
	}
	privateShare := new(big.Int).Set(d.ownShare)
	for _, share := range d.round2Shares {
		privateShare.Add(privateShare, share)
	}
	privateShare = d.suite.reduce(privateShare)

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
		gx, gy = d.suite.add(gx, gy, c[0].X, c[0].Y)
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

type secpCommitment struct{ D, E secpPoint }

type secpSigningSession struct {
	suite            *secp256k1Suite
	participantIndex int
	selected         []int
	share            *big.Int
	groupPubX        *big.Int
	groupPubY        *big.Int

	d, e        *big.Int
	commitments map[int]secpCommitment
	shares      map[int]*big.Int
}

func (s *secpSigningSession) Commit() (Commitment, error) {
	d, err := s.suite.randScalar()
	if err != nil {
		return Commitment{}, err
	}
	e, err := s.suite.randScalar()
	if err != nil {
		return Commitment{}, err
	}
	s.d, s.e = d, e

	dx, dy := s.suite.scalarBaseMult(d)
	ex, ey := s.suite.scalarBaseMult(e)
	dBytes := s.suite.encodePoint(dx, dy)
	eBytes := s.suite.encodePoint(ex, ey)

	s.commitments[s.participantIndex] = secpCommitment{D: secpPoint{dx, dy}, E: secpPoint{ex, ey}}

	return Commitment{SenderIndex: s.participantIndex, D: dBytes, E: eBytes}, nil
}

func (s *secpSigningSession) AddCommitment(c Commitment) error {
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
	s.commitments[c.SenderIndex] = secpCommitment{D: secpPoint{dx, dy}, E: secpPoint{ex, ey}}
	return nil
}

func (s *secpSigningSession) bindingFactor(signer int, message []byte) *big.Int {
	parts := [][]byte{[]byte(fmt.Sprintf("frostmesh-secp256k1-binding:%d", signer)), message}
	for _, i := range s.selected {
		if c, ok := s.commitments[i]; ok {
			parts = append(parts, s.suite.encodePoint(c.D.X, c.D.Y), s.suite.encodePoint(c.E.X, c.E.Y))
		}
	}
	return s.suite.reduce(challengeHashSecp(parts...))
}

func (s *secpSigningSession) groupCommitment(message []byte) (*big.Int, *big.Int, error) {
	var rx, ry *big.Int
	for _, signer := range s.selected {
		c, ok := s.commitments[signer]
		if !ok {
			return nil, nil, fmt.Errorf("frost: missing commitment from signer %d", signer)
		}
		rho := s.bindingFactor(signer, message)
		ex, ey := s.suite.scalarMult(c.E.X, c.E.Y, rho)
		px, py := s.suite.add(c.D.X, c.D.Y, ex, ey)
		if rx == nil {
			rx, ry = px, py
		} else {
			rx, ry = s.suite.add(rx, ry, px, py)
		}
	}
	return rx, ry, nil
}

func (s *secpSigningSession) challenge(rx, ry *big.Int, message []byte) *big.Int {
	return s.suite.reduce(challengeHashSecp(s.suite.encodePoint(rx, ry), s.suite.encodePoint(s.groupPubX, s.groupPubY), message))
}

func (s *secpSigningSession) Sign(message []byte) (Share, error) {
	rx, ry, err := s.groupCommitment(message)
	if err != nil {
		return Share{}, err
	}
	c := s.challenge(rx, ry, message)
	rho := s.bindingFactor(s.participantIndex, message)
	lambda := lagrangeCoefficient(s.participantIndex, s.selected, s.suite.order)

	z := new(big.Int).Mul(s.e, rho)
	z.Add(z, s.d)
	term := new(big.Int).Mul(lambda, s.share)
	term.Mul(term, c)
	z.Add(z, term)
	z = s.suite.reduce(z)

	s.shares[s.participantIndex] = z
	return Share{SenderIndex: s.participantIndex, Z: fixedBytes(z, 32)}, nil
}

func (s *secpSigningSession) AddShare(sh Share) error {
	if _, ok := s.shares[sh.SenderIndex]; ok {
		return nil
	}
	s.shares[sh.SenderIndex] = new(big.Int).SetBytes(sh.Z)
	return nil
}

func (s *secpSigningSession) Aggregate(message []byte) ([]byte, error) {
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
	z = s.suite.reduce(z)

	c := s.challenge(rx, ry, message)
	lx, ly := s.suite.scalarBaseMult(z)
	cx, cy := s.suite.scalarMult(s.groupPubX, s.groupPubY, c)
	ex, ey := s.suite.add(rx, ry, cx, cy)
	if lx.Cmp(ex) != 0 || ly.Cmp(ey) != 0 {
		return nil, fmt.Errorf("frost: aggregated signature failed local verification")
	}

	sig := make([]byte, 64)
	copy(sig[0:32], fixedBytes(rx, 32))
	copy(sig[32:64], fixedBytes(z, 32))
	return sig, nil
}
