package config

// ConfigDiff describes what changed between two configs.
// Only fields that can be safely hot-reloaded are tracked.
type ConfigDiff struct {
	LogLevelChanged bool
	NewLogLevel     LogLevel

	// ConversationChanged is true if the persona, primary user, title or
	// fallback replies changed.
	ConversationChanged bool

	// SpeechLimitsChanged is true if the daily limit, per-request cap or
	// cost per character changed.
	SpeechLimitsChanged bool
}

// Changed reports whether d contains any hot-reloadable change.
func (d ConfigDiff) Changed() bool {
	return d.LogLevelChanged || d.ConversationChanged || d.SpeechLimitsChanged
}

// Diff compares old and new configs and returns what changed.
// Only tracks changes that are safe to apply without restart.
func Diff(old, new *Config) ConfigDiff {
	d := ConfigDiff{}

	if old.Server.LogLevel != new.Server.LogLevel {
		d.LogLevelChanged = true
		d.NewLogLevel = new.Server.LogLevel
	}

	oc, nc := old.Conversation, new.Conversation
	if oc.Persona != nc.Persona ||
		oc.PrimaryUser != nc.PrimaryUser ||
		oc.PrimaryTitle != nc.PrimaryTitle ||
		oc.Fallbacks != nc.Fallbacks {
		d.ConversationChanged = true
	}

	osp, nsp := old.Speech, new.Speech
	if osp.DailyCharLimit != nsp.DailyCharLimit ||
		osp.MaxCharsPerRequest != nsp.MaxCharsPerRequest ||
		osp.CostPerChar != nsp.CostPerChar {
		d.SpeechLimitsChanged = true
	}

	return d
}
