package analyzer

import (
	"bufio"
	"bytes"
	"context"
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"fmt"
	"io"
	"io/fs"
	"log/slog"
	"os"
	"os/exec"
	"path/filepath"
	"slices"
	"strings"

	"github.com/Sumatoshi-tech/contractscan/pkg/record"
)

const (
	oyenteScript = "oyente.py"
	infoPrefix   = "INFO"
	artifactExt  = ".evm"
	disasmExt    = ".disasm"
	artifactPerm = 0o600

	maxReadableName = 64
	digestBytes     = 16
)

// OyenteConfig locates the Oyente installation.
type OyenteConfig struct {
	// Python is the interpreter used to run the script.
	Python string
	// ScriptDir contains oyente.py.
	ScriptDir string
	// WorkDir receives the per-contract bytecode files.
	WorkDir string
	// Args are appended after the bytecode arguments.
	Args []string
}

// Oyente runs one Oyente process per contract.
type Oyente struct {
	cfg    OyenteConfig
	logger *slog.Logger
}

// NewOyente creates the process-per-item strategy.
func NewOyente(cfg OyenteConfig, logger *slog.Logger) *Oyente {
	if logger == nil {
		logger = slog.New(slog.NewTextHandler(io.Discard, nil))
	}

	return &Oyente{cfg: cfg, logger: logger}
}

// Analyze writes the bytecode to <workdir>/<key>-<digest>.evm and runs
// "python oyente.py -s <file> -b" on it. Every file the run leaves behind is
// removed before returning.
func (o *Oyente) Analyze(ctx context.Context, item record.WorkItem) Result {
	path := filepath.Join(o.cfg.WorkDir, artifactName(item.Key)+artifactExt)
	code := strings.TrimPrefix(strings.TrimSpace(item.Payload), "0x")

	defer o.cleanup(ctx, path)

	err := os.WriteFile(path, []byte(code), artifactPerm)
	if err != nil {
		return Failure(fmt.Errorf("write bytecode for %s: %w", item.Key, err))
	}

	args := append([]string{filepath.Join(o.cfg.ScriptDir, oyenteScript), "-s", path, "-b"}, o.cfg.Args...)

	var stdout, stderr bytes.Buffer

	//nolint:gosec // interpreter and script path come from operator configuration.
	cmd := exec.CommandContext(ctx, o.cfg.Python, args...)
	cmd.Stdout = &stdout
	cmd.Stderr = &stderr

	runErr := cmd.Run()
	errText := stderrErrors(stderr.Bytes())

	if runErr != nil {
		return Failure(fmt.Errorf("%w: %s: %w%s", ErrExit, item.Key, runErr, suffix(errText)))
	}

	if errText != "" {
		return Failure(fmt.Errorf("%w: %s: %s", ErrStderr, item.Key, errText))
	}

	res, parseErr := ParseReport(stdout.Bytes())
	if parseErr != nil {
		return Failure(fmt.Errorf("%s: %w", item.Key, parseErr))
	}

	return res
}

// cleanup removes the bytecode file and everything Oyente derived from it.
func (o *Oyente) cleanup(ctx context.Context, path string) {
	targets := []string{path, path + artifactExt, path + artifactExt + disasmExt}

	extra, _ := filepath.Glob(globEscape(path) + "*")
	for _, p := range extra {
		if !slices.Contains(targets, p) {
			targets = append(targets, p)
		}
	}

	for _, p := range targets {
		err := os.Remove(p)
		if err != nil && !errors.Is(err, fs.ErrNotExist) {
			o.logger.WarnContext(ctx, "analyzer: failed to remove artifact", "path", p, "error", err)
		}
	}
}

// stderrErrors keeps stderr lines that are not informational.
func stderrErrors(stderr []byte) string {
	var lines []string

	sc := bufio.NewScanner(bytes.NewReader(stderr))
	sc.Buffer(make([]byte, 0, 64*1024), 1<<20)

	for sc.Scan() {
		line := sc.Text()
		if strings.TrimSpace(line) == "" || strings.HasPrefix(line, infoPrefix) {
			continue
		}

		lines = append(lines, line)
	}

	return strings.Join(lines, "\n")
}

func suffix(text string) string {
	if text == "" {
		return ""
	}

	return ": " + text
}

// artifactName maps a key to a file name unique per key. The readable part
// is lossy, so a digest of the raw key is appended to keep distinct keys
// apart.
func artifactName(key string) string {
	readable := strings.Map(func(r rune) rune {
		switch {
		case r >= 'a' && r <= 'z', r >= 'A' && r <= 'Z', r >= '0' && r <= '9', r == '-', r == '_', r == '.':
			return r
		default:
			return '_'
		}
	}, key)

	if len(readable) > maxReadableName {
		readable = readable[:maxReadableName]
	}

	sum := sha256.Sum256([]byte(key))

	return readable + "-" + hex.EncodeToString(sum[:digestBytes])
}

// globEscape quotes glob metacharacters in a literal path.
func globEscape(path string) string {
	return strings.NewReplacer(`*`, `\*`, `?`, `\?`, `[`, `\[`).Replace(path)
}
