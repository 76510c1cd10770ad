package extension

// Config holds the tokenledger extension configuration.
// Fields can be set programmatically via Option functions or loaded from
// YAML configuration files (under "extensions.tokenledger" or "tokenledger" keys).
type Config struct {
	// DisableMigrate prevents auto-migration on start.
	DisableMigrate bool `json:"disable_migrate" mapstructure:"disable_migrate" yaml:"disable_migrate"`

	// HistoryLimit is the number of transactions History returns by default
	// (default: 10).
	HistoryLimit int `json:"history_limit" mapstructure:"history_limit" yaml:"history_limit"`

	// ContentAnalysisCost prices CONTENT_ANALYSIS. Zero leaves it unpriced.
	ContentAnalysisCost int64 `json:"content_analysis_cost" mapstructure:"content_analysis_cost" yaml:"content_analysis_cost"`

	// RequireConfig requires config to be present in YAML files.
	// If true and no config is found, Register returns an error.
	RequireConfig bool `json:"-" yaml:"-"`
}

// DefaultConfig returns a Config with sensible defaults.
func DefaultConfig() Config {
	return Config{
		HistoryLimit: 10,
	}
}
