package config

import (
	"fmt"
	"os"

	"gopkg.in/yaml.v3"

	"github.com/dgnsrekt/adcapture/internal/adslot"
	"github.com/dgnsrekt/adcapture/internal/capture"
	"github.com/dgnsrekt/adcapture/internal/obstruction"
)

// Policies groups every tunable threshold. A policy file only needs the keys
// it overrides.
type Policies struct {
	Slots        adslot.Policy      `yaml:"slots"`
	Obstructions obstruction.Policy `yaml:"obstructions"`
	Capture      capture.Policy     `yaml:"capture"`
}

func DefaultPolicies() Policies {
	return Policies{
		Slots:        adslot.DefaultPolicy(),
		Obstructions: obstruction.DefaultPolicy(),
		Capture:      capture.DefaultPolicy(),
	}
}

// LoadPolicies reads path and overlays it on the defaults. An empty path
// returns the defaults.
func LoadPolicies(path string) (Policies, error) {
	p := DefaultPolicies()
	if path == "" {
		return p, nil
	}
	data, err := os.ReadFile(path)
	if err != nil {
		return Policies{}, fmt.Errorf("policy file: %w", err)
	}
	var file Policies
	if err := yaml.Unmarshal(data, &file); err != nil {
		return Policies{}, fmt.Errorf("policy file %s: %w", path, err)
	}
	p.Slots = p.Slots.Merge(file.Slots)
	p.Obstructions = p.Obstructions.Merge(file.Obstructions)
	p.Capture = p.Capture.Merge(file.Capture)
	return p, nil
}
