package config

// ConfigDiff describes what changed between two configs. Only fields that
// are safe to apply without restarting the process are tracked; provider
// selection changes are reported but applying them is left to the caller
// (swapping a live adapter requires draining in-flight turns first).
type ConfigDiff struct {
	LogLevelChanged bool
	NewLogLevel     LogLevel

	VADChanged         bool
	ConversationChanged bool

	ProviderChanges []ProviderDiff
}

// ProviderDiff reports that a provider slot's configuration changed between
// two configs.
type ProviderDiff struct {
	Kind        string // "llm", "stt", "tts", "embeddings", "vad"
	NameChanged bool
	OldName     string
	NewName     string
}

// Diff compares old and new configs and returns what changed.
func Diff(old, new *Config) ConfigDiff {
	d := ConfigDiff{}

	if old.Server.LogLevel != new.Server.LogLevel {
		d.LogLevelChanged = true
		d.NewLogLevel = new.Server.LogLevel
	}

	if old.VAD != new.VAD {
		d.VADChanged = true
	}

	if old.Conversation != new.Conversation {
		d.ConversationChanged = true
	}

	d.ProviderChanges = append(d.ProviderChanges, diffProvider("llm", old.Providers.LLM, new.Providers.LLM)...)
	d.ProviderChanges = append(d.ProviderChanges, diffProvider("stt", old.Providers.STT, new.Providers.STT)...)
	d.ProviderChanges = append(d.ProviderChanges, diffProvider("tts", old.Providers.TTS, new.Providers.TTS)...)
	d.ProviderChanges = append(d.ProviderChanges, diffProvider("embeddings", old.Providers.Embeddings, new.Providers.Embeddings)...)
	d.ProviderChanges = append(d.ProviderChanges, diffProvider("vad", old.Providers.VAD, new.Providers.VAD)...)

	return d
}

func diffProvider(kind string, old, new ProviderEntry) []ProviderDiff {
	if old.Name == new.Name {
		return nil
	}
	return []ProviderDiff{{
		Kind:        kind,
		NameChanged: true,
		OldName:     old.Name,
		NewName:     new.Name,
	}}
}
