// Package store 保存每次计算与证明的记录。
// PostgreSQL 为真源，Redis 为读穿缓存，内存实现用于测试和单机运行。
package store

import (
	"context"
	"errors"
	"time"

	"github.com/shopspring/decimal"
)

var ErrNotFound = errors.New("record not found")

// Record is one checked computation, optionally linked to a proof artifact.
type Record struct {
	ID                   string          `json:"id"`
	Source               string          `json:"source"`
	SampleCount          int             `json:"sampleCount"`
	Scale                uint8           `json:"scale"`
	Reference            int64           `json:"reference"`
	Optimized            int64           `json:"optimized"`
	Circuit              int64           `json:"circuit"`
	Volatility           decimal.Decimal `json:"volatility"`
	ReferenceVsOptimized uint64          `json:"referenceVsOptimized"`
	WithinTolerance      bool            `json:"withinTolerance"`
	ArtifactID           string          `json:"artifactId,omitempty"`
	CreatedAt            time.Time       `json:"createdAt"`
}

// Store is the persistence interface for records.
type Store interface {
	Save(ctx context.Context, rec *Record) error
	Get(ctx context.Context, id string) (*Record, error)
	// List returns the newest records first.
	List(ctx context.Context, limit int) ([]Record, error)
	AttachArtifact(ctx context.Context, id, artifactID string) error
}
