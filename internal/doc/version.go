package doc

// Version constants for persisted formats and the engine.
const (
	// LogFormatVersion is the version of the operation and effect
	// encodings written to the transaction log.
	LogFormatVersion = "1"

	// EngineVersion is the chronicle engine version.
	EngineVersion = "0.1.0"
)
