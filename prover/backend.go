package prover

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/ethereum/go-ethereum/crypto"
	"github.com/google/uuid"

	"volatility-prover/circuit"
)

// Backend is the proving system boundary: Submit may block for a long
// time and must honour ctx.
type Backend interface {
	Kind() string
	Submit(ctx context.Context, trace *circuit.Trace) (Artifact, error)
	Verify(ctx context.Context, art Artifact, pub PublicInputs) (bool, error)
}

const (
	KindLocal = "local"

	witnessDigestLen = 32
	signatureLen     = 65
)

// Verifier checks artifacts against a verifying key only.
type Verifier struct {
	Key VerifyingKey
}

// Verify returns false, not an error, for any artifact that does not
// prove pub under the key.
func (v Verifier) Verify(ctx context.Context, art Artifact, pub PublicInputs) (bool, error) {
	if err := ctx.Err(); err != nil {
		return false, err
	}
	if art.PublicInputs != pub || art.PublicInputsDigest != pub.Digest() {
		return false, nil
	}
	if pub.Shape != v.Key.Shape || pub.SampleCount != uint64(v.Key.SampleCount) || pub.Scale != v.Key.Scale {
		return false, nil
	}
	if len(art.Proof) != witnessDigestLen+signatureLen {
		return false, nil
	}
	msg := proofMessage(pub.Shape[:], art.PublicInputsDigest[:], art.Proof[:witnessDigestLen])
	signer, err := crypto.SigToPub(msg, art.Proof[witnessDigestLen:])
	if err != nil {
		return false, nil
	}
	return crypto.PubkeyToAddress(*signer) == v.Key.Signer, nil
}

// LocalBackend checks every constraint of the trace in process and signs
// the result. It stands in for an external proving service during
// development and in tests.
type LocalBackend struct {
	Verifier
	keys *Keys
	now  func() time.Time
}

func NewLocalBackend(keys *Keys) *LocalBackend {
	return &LocalBackend{Verifier: Verifier{Key: keys.Verifying}, keys: keys, now: time.Now}
}

func (b *LocalBackend) Kind() string { return KindLocal }

func (b *LocalBackend) Submit(ctx context.Context, trace *circuit.Trace) (Artifact, error) {
	if err := ctx.Err(); err != nil {
		return Artifact{}, err
	}
	if trace == nil {
		return Artifact{}, errors.New("nil trace")
	}
	if trace.Rows() > 1<<b.keys.Verifying.Degree {
		return Artifact{}, fmt.Errorf("%w: %d rows", ErrDegreeTooSmall, trace.Rows())
	}
	shape := trace.ShapeDigest()
	if shape != b.keys.Verifying.Shape {
		return Artifact{}, fmt.Errorf("%w: %s vs %s", ErrShapeMismatch, shape.Hex(), b.keys.Verifying.Shape.Hex())
	}
	if err := trace.Check(); err != nil {
		return Artifact{}, err
	}
	pub, err := PublicInputsFromTrace(trace)
	if err != nil {
		return Artifact{}, err
	}
	if err := ctx.Err(); err != nil {
		return Artifact{}, err
	}

	digest := pub.Digest()
	witness := trace.WitnessDigest()
	sig, err := crypto.Sign(proofMessage(shape[:], digest[:], witness[:]), b.keys.Proving)
	if err != nil {
		return Artifact{}, fmt.Errorf("sign proof: %w", err)
	}
	proof := make([]byte, 0, witnessDigestLen+signatureLen)
	proof = append(proof, witness[:]...)
	proof = append(proof, sig...)

	return Artifact{
		ID:                 uuid.New(),
		Backend:            b.Kind(),
		PublicInputs:       pub,
		PublicInputsDigest: digest,
		PublicValues:       pub.Encode(),
		Proof:              proof,
		CreatedAt:          b.now().UTC(),
	}, nil
}

func proofMessage(parts ...[]byte) []byte {
	return crypto.Keccak256(parts...)
}
