// Package scrape fills the bytecode column of a contracts export from an
// Ethereum node, producing the contracts_bytecode table the analyzer reads.
package scrape

import (
	"context"
	"slices"
	"time"

	"github.com/Sumatoshi-tech/contractscan/pkg/record"
)

// Fetcher returns the deployed code at an address as 0x-prefixed hex.
type Fetcher interface {
	Code(ctx context.Context, address string) (string, error)
}

// Stage is the pump stage of the scrape pipeline. Output rows keep the input
// columns; only the payload column is replaced.
type Stage struct {
	fetcher Fetcher
	timeout time.Duration
}

// NewStage creates a Stage. A positive timeout bounds every fetch.
func NewStage(fetcher Fetcher, timeout time.Duration) *Stage {
	return &Stage{fetcher: fetcher, timeout: timeout}
}

// Header keeps the input header.
func (s *Stage) Header(schema *record.Schema) []string {
	return schema.Columns()
}

// Process fetches the code of the item's address. On failure the input row
// is returned unchanged with the error.
func (s *Stage) Process(ctx context.Context, item record.WorkItem) ([]string, error) {
	if s.timeout > 0 {
		var cancel context.CancelFunc

		ctx, cancel = context.WithTimeout(ctx, s.timeout)
		defer cancel()
	}

	code, err := s.fetcher.Code(ctx, item.Address())
	if err != nil {
		return slices.Clone(item.Fields), err
	}

	return record.WithPayload(item, code), nil
}
