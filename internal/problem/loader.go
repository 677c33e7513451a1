package problem

import appErr "judgecore/pkg/errors"

// Package is an opened problem bundle plus its parsed descriptor — the
// unit component F hands to the orchestrator. Callers must Close it once
// done.
type Package struct {
	Bundle *Bundle
	Config *Config
}

// Load opens the ZIP bundle at path and parses its config.yaml.
func Load(path string) (*Package, error) {
	bundle, err := OpenBundle(path)
	if err != nil {
		return nil, err
	}
	cfg, err := LoadConfig(bundle)
	if err != nil {
		bundle.Close()
		return nil, err
	}
	return &Package{Bundle: bundle, Config: cfg}, nil
}

// Close releases the underlying archive.
func (p *Package) Close() error {
	return p.Bundle.Close()
}

// ErrLegacyFormat reports whether err is the unsupported-legacy-format
// condition, for callers that want to special-case it (e.g. log a
// migration hint) rather than treat it as a generic load failure.
func ErrLegacyFormat(err error) bool {
	return appErr.Is(err, appErr.ProblemBundleLegacyUnsup)
}
