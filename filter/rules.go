package filter

// Rules holds the literal strings the filter matches against.
type Rules struct {
	// Suppress lists substrings of noisy lines that only go to the raw log.
	Suppress []string `yaml:"suppress"`
	// ProgressPrefix starts a loading-progress line; the remainder is the dedup key.
	ProgressPrefix string `yaml:"progress_prefix"`
	// StartupMarker starts the line the server prints once it is fully up.
	StartupMarker string `yaml:"startup_marker"`
}

// DefaultRules matches the output of a Rust dedicated server.
func DefaultRules() Rules {
	return Rules{
		Suppress: []string{
			"ERROR: Shader",
			"WARNING: Shader",
		},
		ProgressPrefix: "Loading Prefab Bundle ",
		StartupMarker:  "Server startup complete",
	}
}
