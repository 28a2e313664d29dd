package config

// ConfigDiff describes what changed between two configs.
type ConfigDiff struct {
	// LogLevelChanged is applied live.
	LogLevelChanged bool
	NewLogLevel     LogLevel

	// PersonalityChanged means the inline personality or the personality file
	// path changed. File content changes are detected by the [Watcher] and
	// show up as a changed resolved preamble, not here.
	PersonalityChanged bool

	// RestartRequired lists sections whose changes only apply after a
	// restart, such as providers, audio format or context size.
	RestartRequired []string
}

// Diff compares old and new configs and returns what changed.
func Diff(old, new *Config) ConfigDiff {
	d := ConfigDiff{}

	if old.Server.LogLevel != new.Server.LogLevel {
		d.LogLevelChanged = true
		d.NewLogLevel = new.Server.LogLevel
	}
	if old.Agent.Personality != new.Agent.Personality || old.Agent.PersonalityFile != new.Agent.PersonalityFile {
		d.PersonalityChanged = true
	}

	if old.Server.ListenAddr != new.Server.ListenAddr || !tlsEqual(old.Server.TLS, new.Server.TLS) {
		d.RestartRequired = append(d.RestartRequired, "server")
	}
	if !providersEqual(old.Providers, new.Providers) {
		d.RestartRequired = append(d.RestartRequired, "providers")
	}
	if !agentEqual(old.Agent, new.Agent) {
		d.RestartRequired = append(d.RestartRequired, "agent")
	}
	if old.Audio != new.Audio {
		d.RestartRequired = append(d.RestartRequired, "audio")
	}
	if old.Segmenter != new.Segmenter {
		d.RestartRequired = append(d.RestartRequired, "segmenter")
	}
	if old.Timeouts != new.Timeouts {
		d.RestartRequired = append(d.RestartRequired, "timeouts")
	}
	if old.Journal != new.Journal {
		d.RestartRequired = append(d.RestartRequired, "journal")
	}
	return d
}

func tlsEqual(a, b *TLSConfig) bool {
	if a == nil || b == nil {
		return a == b
	}
	return *a == *b
}

// providersEqual ignores Options, which only matter to the factories.
func providersEqual(a, b ProvidersConfig) bool {
	same := func(x, y ProviderEntry) bool {
		return x.Name == y.Name && x.APIKey == y.APIKey && x.BaseURL == y.BaseURL && x.Model == y.Model
	}
	return same(a.LLM, b.LLM) && same(a.LLMFallback, b.LLMFallback) &&
		same(a.STT, b.STT) && same(a.STTFallback, b.STTFallback) &&
		same(a.TTS, b.TTS) && same(a.TTSFallback, b.TTSFallback) &&
		same(a.VAD, b.VAD)
}

// agentEqual compares the agent fields that are fixed for a session. The
// personality is excluded because it is applied live.
func agentEqual(a, b AgentConfig) bool {
	return a.ContextTurns == b.ContextTurns &&
		a.SpeechEnabled() == b.SpeechEnabled() &&
		a.BargeInEnabled() == b.BargeInEnabled() &&
		a.EchoSuppressionEnabled() == b.EchoSuppressionEnabled() &&
		a.WarmUpEnabled() == b.WarmUpEnabled() &&
		a.InterruptPolicy == b.InterruptPolicy &&
		a.Chunking == b.Chunking &&
		a.Voice == b.Voice &&
		a.Language == b.Language &&
		a.Temperature == b.Temperature &&
		a.MaxTokens == b.MaxTokens &&
		a.UserLabel == b.UserLabel &&
		a.AssistantLabel == b.AssistantLabel
}
