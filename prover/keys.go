package prover

import (
	"crypto/ecdsa"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"

	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/crypto"

	"volatility-prover/fixed"
	"volatility-prover/market"
	"volatility-prover/volatility"
)

const (
	ProvingKeyFile   = "proving.key"
	VerifyingKeyFile = "verifying.json"
)

// VerifyingKey pins the circuit a proof must come from.
type VerifyingKey struct {
	Signer      common.Address `json:"signer"`
	Shape       common.Hash    `json:"shape"`
	SampleCount int            `json:"sampleCount"`
	Scale       uint8          `json:"scale"`
	Iterations  int            `json:"iterations"`
	Degree      int            `json:"degree"`
	Rows        int            `json:"rows"`
}

// Keys 在进程启动时加载一次，之后只读共享，无需加锁。
type Keys struct {
	Proving   *ecdsa.PrivateKey
	Verifying VerifyingKey
}

// Keygen derives the circuit shape for calc's declared sample count and
// creates a fresh signing key for it. The circuit must fit in 2^degree
// rows.
func Keygen(calc *volatility.CircuitCalculator, degree int) (*Keys, error) {
	if degree < 1 || degree > 30 {
		return nil, fmt.Errorf("%w: degree %d outside [1, 30]", ErrDegreeTooSmall, degree)
	}
	header := calc.Header()
	zeros := make([]fixed.Point, header.SampleCount-1)
	for i := range zeros {
		zeros[i] = fixed.Zero(fixed.Scale(header.Scale))
	}
	series, err := market.NewReturnSeries(zeros, fixed.Scale(header.Scale))
	if err != nil {
		return nil, err
	}
	_, trace, err := calc.Trace(series)
	if err != nil {
		return nil, fmt.Errorf("keygen trace: %w", err)
	}
	if trace.Rows() > 1<<degree {
		return nil, fmt.Errorf("%w: %d rows, degree %d allows %d", ErrDegreeTooSmall, trace.Rows(), degree, 1<<degree)
	}

	priv, err := crypto.GenerateKey()
	if err != nil {
		return nil, fmt.Errorf("generate key: %w", err)
	}
	return &Keys{
		Proving: priv,
		Verifying: VerifyingKey{
			Signer:      crypto.PubkeyToAddress(priv.PublicKey),
			Shape:       trace.ShapeDigest(),
			SampleCount: header.SampleCount,
			Scale:       header.Scale,
			Iterations:  header.Iterations,
			Degree:      degree,
			Rows:        trace.Rows(),
		},
	}, nil
}

// MinDegree returns the smallest degree whose row count fits rows.
func MinDegree(rows int) int {
	d := 0
	for 1<<d < rows {
		d++
	}
	return d
}

// SaveKeys writes both keys under dir.
func SaveKeys(dir string, k *Keys) error {
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return err
	}
	if err := crypto.SaveECDSA(filepath.Join(dir, ProvingKeyFile), k.Proving); err != nil {
		return fmt.Errorf("save proving key: %w", err)
	}
	raw, err := json.MarshalIndent(k.Verifying, "", "  ")
	if err != nil {
		return err
	}
	return os.WriteFile(filepath.Join(dir, VerifyingKeyFile), raw, 0o644)
}

// LoadVerifyingKey reads only the verifying half, for verifier-only use.
func LoadVerifyingKey(dir string) (VerifyingKey, error) {
	var vk VerifyingKey
	raw, err := os.ReadFile(filepath.Join(dir, VerifyingKeyFile))
	if err != nil {
		return vk, err
	}
	if err := json.Unmarshal(raw, &vk); err != nil {
		return vk, fmt.Errorf("%w: verifying key: %v", ErrInvalidKeys, err)
	}
	return vk, nil
}

// LoadKeys reads keys written by SaveKeys and checks they belong together.
func LoadKeys(dir string) (*Keys, error) {
	vk, err := LoadVerifyingKey(dir)
	if err != nil {
		return nil, err
	}
	priv, err := crypto.LoadECDSA(filepath.Join(dir, ProvingKeyFile))
	if err != nil {
		return nil, fmt.Errorf("%w: proving key: %v", ErrInvalidKeys, err)
	}
	if crypto.PubkeyToAddress(priv.PublicKey) != vk.Signer {
		return nil, fmt.Errorf("%w: proving key does not match verifying key signer", ErrInvalidKeys)
	}
	return &Keys{Proving: priv, Verifying: vk}, nil
}

// Matches reports whether the keys were generated for this circuit setup.
func (k *Keys) Matches(calc *volatility.CircuitCalculator) error {
	h := calc.Header()
	vk := k.Verifying
	if vk.SampleCount != h.SampleCount || vk.Scale != h.Scale || vk.Iterations != h.Iterations {
		return fmt.Errorf("%w: keys for samples=%d scale=%d iterations=%d, circuit samples=%d scale=%d iterations=%d",
			ErrShapeMismatch, vk.SampleCount, vk.Scale, vk.Iterations, h.SampleCount, h.Scale, h.Iterations)
	}
	return nil
}
