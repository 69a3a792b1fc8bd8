package audit

import "time"

// OutputFormat selects the slog handler used for the async write path.
type OutputFormat string

const (
	FormatJSON OutputFormat = "json"
	FormatText OutputFormat = "text"
)

// Config configures a Logger.
type Config struct {
	Enabled       bool
	Format        OutputFormat
	Output        string // "stdout" | "stderr" | "file:<path>"
	BufferSize    int
	FlushInterval time.Duration

	// RetentionDays maps a user tier to its audit retention window, used
	// by Sweep. Keyed by string rather than models.UserTier to avoid a
	// direct dependency edge; callers pass the tier's string value.
	RetentionDays map[string]int
}

// DefaultConfig returns a sane Config for production use.
func DefaultConfig() Config {
	return Config{
		Enabled:       true,
		Format:        FormatJSON,
		Output:        "stdout",
		BufferSize:    1000,
		FlushInterval: 5 * time.Second,
		RetentionDays: map[string]int{"free": 7, "pro": 30, "enterprise": 90},
	}
}
