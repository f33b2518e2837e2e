package types

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"gopkg.in/yaml.v3"
)

// DecodeCatalog parses a catalog document. YAML input is normalised to JSON
// first so both formats share the canonical value decoding in rules.go.
func DecodeCatalog(data []byte, format string) (RulesCatalog, error) {
	var catalog RulesCatalog

	switch strings.ToLower(format) {
	case "json", "":
		if err := json.Unmarshal(data, &catalog); err != nil {
			return RulesCatalog{}, fmt.Errorf("invalid catalog JSON: %w", err)
		}
	case "yaml", "yml":
		var doc any
		if err := yaml.Unmarshal(data, &doc); err != nil {
			return RulesCatalog{}, fmt.Errorf("invalid catalog YAML: %w", err)
		}
		normalised, err := json.Marshal(doc)
		if err != nil {
			return RulesCatalog{}, fmt.Errorf("catalog YAML is not JSON-compatible: %w", err)
		}
		if err := json.Unmarshal(normalised, &catalog); err != nil {
			return RulesCatalog{}, fmt.Errorf("invalid catalog YAML: %w", err)
		}
	default:
		return RulesCatalog{}, fmt.Errorf("unsupported catalog format: %s (expected json or yaml)", format)
	}

	return catalog, nil
}

// LoadCatalogFile reads a catalog from disk, picking the format by extension.
// A catalog without a name takes the file's base name.
func LoadCatalogFile(path string) (RulesCatalog, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return RulesCatalog{}, fmt.Errorf("failed to read catalog: %w", err)
	}

	ext := strings.TrimPrefix(filepath.Ext(path), ".")
	catalog, err := DecodeCatalog(data, ext)
	if err != nil {
		return RulesCatalog{}, fmt.Errorf("%s: %w", path, err)
	}
	if catalog.Name == "" {
		catalog.Name = strings.TrimSuffix(filepath.Base(path), filepath.Ext(path))
	}
	return catalog, nil
}

// EncodeCatalog writes the canonical JSON form.
func EncodeCatalog(catalog RulesCatalog) ([]byte, error) {
	return json.Marshal(catalog)
}
