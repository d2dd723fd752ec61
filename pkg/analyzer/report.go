package analyzer

import (
	"bytes"
	"encoding/json"
	"fmt"
	"strconv"
)

type report struct {
	Vulnerabilities map[string]json.RawMessage `json:"vulnerabilities"`
	Coverage        json.RawMessage            `json:"evm_code_coverage"`
}

// ParseReport decodes the JSON report printed by Oyente in bytecode mode.
// Empty output decodes to a result with no findings.
func ParseReport(stdout []byte) (Result, error) {
	stdout = bytes.TrimSpace(stdout)
	if len(stdout) == 0 {
		return Result{}, nil
	}

	var rep report

	err := json.Unmarshal(stdout, &rep)
	if err != nil {
		return Result{}, fmt.Errorf("%w: %w", ErrReport, err)
	}

	var res Result

	fields := []struct {
		name string
		dst  *string
	}{
		{"callstack", &res.Callstack},
		{"reentrancy", &res.Reentrancy},
		{"time_dependency", &res.TimeDependency},
		{"integer_overflow", &res.IntegerOverflow},
		{"integer_underflow", &res.IntegerUnderflow},
		{"money_concurrency", &res.MoneyConcurrency},
	}

	for _, f := range fields {
		v, decodeErr := finding(rep.Vulnerabilities[f.name])
		if decodeErr != nil {
			return Result{}, fmt.Errorf("%w: %s: %w", ErrReport, f.name, decodeErr)
		}

		*f.dst = v
	}

	cov, err := finding(rep.Coverage)
	if err != nil {
		return Result{}, fmt.Errorf("%w: evm_code_coverage: %w", ErrReport, err)
	}

	res.Coverage = cov

	return res, nil
}

// finding renders one report value as a CSV cell. Lists collapse to whether
// any instance was found.
func finding(raw json.RawMessage) (string, error) {
	if len(raw) == 0 {
		return "", nil
	}

	var v any

	err := json.Unmarshal(raw, &v)
	if err != nil {
		return "", err
	}

	switch val := v.(type) {
	case nil:
		return "", nil
	case bool:
		return strconv.FormatBool(val), nil
	case string:
		return val, nil
	case float64:
		return strconv.FormatFloat(val, 'f', -1, 64), nil
	case []any:
		return strconv.FormatBool(len(val) > 0), nil
	default:
		return "", nil
	}
}
