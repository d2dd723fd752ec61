// Package ledger records which batches finished, so a rerun can skip them.
//
// A batch counts as complete only once its manifest has been written, which
// happens after the output file was renamed into place.
package ledger

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/url"
	"strings"
	"time"
)

// ErrUnsupportedLedger is returned by Open for an unknown URL scheme.
var ErrUnsupportedLedger = errors.New("unsupported ledger")

// Key identifies one batch output.
type Key struct {
	Table  string
	Batch  string
	Output string
}

// ID names the batch output uniquely across output roots and compression
// settings. Shared ledgers key manifests by it.
func (k Key) ID() string {
	return k.Table + "/" + k.Batch + "@" + k.Output
}

// Manifest is the completion record of one batch.
type Manifest struct {
	CompletedAt     time.Time `json:"completed_at"     yaml:"completed_at"     bson:"completed_at"`
	Table           string    `json:"table"            yaml:"table"            bson:"table"`
	Batch           string    `json:"batch"            yaml:"batch"            bson:"batch"`
	Output          string    `json:"output"           yaml:"output"           bson:"output"`
	StartBlock      int64     `json:"start_block"      yaml:"start_block"      bson:"start_block"`
	EndBlock        int64     `json:"end_block"        yaml:"end_block"        bson:"end_block"`
	Rows            int       `json:"rows"             yaml:"rows"             bson:"rows"`
	Errors          int       `json:"errors"           yaml:"errors"           bson:"errors"`
	WaitSeconds     float64   `json:"wait_seconds"     yaml:"wait_seconds"     bson:"wait_seconds"`
	AnalysisSeconds float64   `json:"analysis_seconds" yaml:"analysis_seconds" bson:"analysis_seconds"`
	ElapsedSeconds  float64   `json:"elapsed_seconds"  yaml:"elapsed_seconds"  bson:"elapsed_seconds"`
}

// Key returns the batch key the manifest completes.
func (m Manifest) Key() Key {
	return Key{Table: m.Table, Batch: m.Batch, Output: m.Output}
}

// Ledger stores completion manifests.
type Ledger interface {
	// Completed reports whether a manifest exists for key.
	Completed(ctx context.Context, key Key) (bool, error)
	// MarkComplete stores m, replacing any previous manifest for the batch.
	MarkComplete(ctx context.Context, m Manifest) error
	io.Closer
}

// Open selects a ledger by URL: empty or "file" keeps manifests next to the
// outputs, redis:// and rediss:// use a Redis hash, mongodb:// and
// mongodb+srv:// use a MongoDB collection.
func Open(ctx context.Context, rawURL string, logger *slog.Logger) (Ledger, error) {
	if logger == nil {
		logger = slog.New(slog.NewTextHandler(io.Discard, nil))
	}

	if rawURL == "" || rawURL == "file" {
		return NewFile(), nil
	}

	u, err := url.Parse(rawURL)
	if err != nil {
		return nil, fmt.Errorf("parse ledger url: %w", err)
	}

	switch strings.ToLower(u.Scheme) {
	case "redis", "rediss":
		logger.InfoContext(ctx, "ledger: using redis", "host", u.Host)

		return NewRedis(ctx, rawURL)
	case "mongodb", "mongodb+srv":
		logger.InfoContext(ctx, "ledger: using mongodb", "host", u.Host)

		return NewMongo(ctx, rawURL)
	default:
		return nil, fmt.Errorf("%w: %q", ErrUnsupportedLedger, u.Scheme)
	}
}
