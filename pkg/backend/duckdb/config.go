package duckdb

import (
	"fmt"
	"sort"

	"github.com/go-viper/mapstructure/v2"
)

// Params holds DuckDB-specific configuration.
// Parsed from backend.Params.Settings using mapstructure.
type Params struct {
	// Extensions to install and load (e.g., "httpfs", "json")
	Extensions []string `mapstructure:"extensions"`

	// Settings to apply at session level (e.g., memory_limit, threads)
	Settings map[string]string `mapstructure:"settings"`

	// InMemory keeps every session in a private in-memory database instead
	// of a file under the data directory.
	InMemory bool `mapstructure:"in_memory"`

	// ReadOnly opens database files read-only.
	ReadOnly bool `mapstructure:"read_only"`
}

// decodeParams decodes the driver settings.
func decodeParams(raw map[string]any) (Params, error) {
	var p Params
	if len(raw) == 0 {
		return p, nil
	}
	dec, err := mapstructure.NewDecoder(&mapstructure.DecoderConfig{
		Result:           &p,
		WeaklyTypedInput: true,
		ErrorUnused:      true,
	})
	if err != nil {
		return p, err
	}
	if err := dec.Decode(raw); err != nil {
		return p, fmt.Errorf("invalid duckdb settings: %w", err)
	}
	return p, nil
}

// settingStatements returns the SET statements for p.Settings in a stable order.
func (p Params) settingStatements() []string {
	keys := make([]string, 0, len(p.Settings))
	for k := range p.Settings {
		keys = append(keys, k)
	}
	sort.Strings(keys)

	stmts := make([]string, 0, len(keys))
	for _, k := range keys {
		stmts = append(stmts, fmt.Sprintf("SET %s = %s", quoteIdent(k), quoteLiteral(p.Settings[k])))
	}
	return stmts
}
