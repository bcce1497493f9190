package prover

import (
	"encoding/json"
	"fmt"
	"os"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/common/hexutil"
	"github.com/google/uuid"
)

// Artifact 是后端返回的证明产物，可直接写成 JSON 交给链上验证方。
type Artifact struct {
	ID                 uuid.UUID     `json:"id"`
	Backend            string        `json:"backend"`
	PublicInputs       PublicInputs  `json:"publicInputs"`
	PublicInputsDigest common.Hash   `json:"publicInputsDigest"`
	PublicValues       hexutil.Bytes `json:"publicValues"`
	Proof              hexutil.Bytes `json:"proof"`
	CreatedAt          time.Time     `json:"createdAt"`
}

// WriteArtifact stores a as indented JSON at path.
func WriteArtifact(path string, a Artifact) error {
	raw, err := json.MarshalIndent(a, "", "  ")
	if err != nil {
		return err
	}
	return os.WriteFile(path, raw, 0o644)
}

// ReadArtifact loads an artifact written by WriteArtifact.
func ReadArtifact(path string) (Artifact, error) {
	var a Artifact
	raw, err := os.ReadFile(path)
	if err != nil {
		return a, err
	}
	if err := json.Unmarshal(raw, &a); err != nil {
		return a, fmt.Errorf("decode artifact %s: %w", path, err)
	}
	return a, nil
}
