package main

import (
	_ "embed"
	"encoding/json"
	"fmt"
	"os"

	"gopkg.in/yaml.v3"

	"x402-delegation/backend/internal/registry/domain"
)

//go:embed catalog.yaml
var defaultCatalog []byte

type catalog struct {
	Services []domain.Spec `json:"services"`
}

// loadCatalog reads the catalog at path, or the embedded development catalog when path is empty.
func loadCatalog(path string) ([]domain.Spec, error) {
	raw := defaultCatalog
	if path != "" {
		b, err := os.ReadFile(path)
		if err != nil {
			return nil, err
		}
		raw = b
	}
	return parseCatalog(raw)
}

// parseCatalog decodes YAML into generic values and re-encodes them as JSON so the
// registry types keep a single set of (json) field tags.
func parseCatalog(raw []byte) ([]domain.Spec, error) {
	var doc any
	if err := yaml.Unmarshal(raw, &doc); err != nil {
		return nil, fmt.Errorf("parse catalog: %w", err)
	}
	b, err := json.Marshal(doc)
	if err != nil {
		return nil, fmt.Errorf("convert catalog: %w", err)
	}
	var c catalog
	if err := json.Unmarshal(b, &c); err != nil {
		return nil, fmt.Errorf("decode catalog: %w", err)
	}
	return c.Services, nil
}
