package analyzer

import (
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"

	"github.com/Sumatoshi-tech/contractscan/pkg/config"
)

// ErrUnknownStrategy is returned by New for an unsupported strategy name.
var ErrUnknownStrategy = errors.New("unknown analyzer strategy")

type closerFunc func() error

func (f closerFunc) Close() error { return f() }

// New builds the Oyente-backed analyzer for cfg.Strategy. The returned closer
// stops pool workers and removes a work directory created by New; it must be
// called once the run is over.
func New(cfg config.AnalyzerConfig, logger *slog.Logger) (Analyzer, io.Closer, error) {
	if logger == nil {
		logger = slog.New(slog.NewTextHandler(io.Discard, nil))
	}

	workDir := cfg.WorkDir
	removeWorkDir := func() error { return nil }

	if workDir == "" {
		dir, err := os.MkdirTemp("", "contractscan-*")
		if err != nil {
			return nil, nil, fmt.Errorf("create work dir: %w", err)
		}

		workDir = dir
		removeWorkDir = func() error { return os.RemoveAll(dir) }
	} else {
		err := os.MkdirAll(workDir, 0o750)
		if err != nil {
			return nil, nil, fmt.Errorf("create work dir: %w", err)
		}
	}

	oyente := NewOyente(OyenteConfig{
		Python:    cfg.Python,
		ScriptDir: cfg.ScriptDir,
		WorkDir:   workDir,
		Args:      cfg.Args,
	}, logger)

	switch cfg.Strategy {
	case config.StrategyProcess, "":
		return oyente, closerFunc(removeWorkDir), nil
	case config.StrategyPool:
		pool := NewPool(oyente, cfg.Workers)

		return pool, closerFunc(func() error {
			return errors.Join(pool.Close(), removeWorkDir())
		}), nil
	case config.StrategySerial:
		return NewSerial(oyente), closerFunc(removeWorkDir), nil
	default:
		_ = removeWorkDir()

		return nil, nil, fmt.Errorf("%w: %q", ErrUnknownStrategy, cfg.Strategy)
	}
}
