package config

import "reflect"

// ConfigDiff describes what changed between two configs.
// Hot-reloadable changes get their own flag; everything else is listed in
// RestartRequired.
type ConfigDiff struct {
	LogLevelChanged bool
	NewLogLevel     LogLevel

	// RubricChanged is set when the rubric path or its content changed.
	RubricChanged bool

	// QuestionsChanged is set when the questions path or its content changed.
	QuestionsChanged bool

	// VocabularyChanged is set when the vocabulary or wordlist changed, or the
	// transcription language or prompt was edited.
	VocabularyChanged bool

	// RestartRequired names the sections whose changes only take effect
	// after a restart.
	RestartRequired []string
}

// Empty reports whether d records no change at all.
func (d ConfigDiff) Empty() bool {
	return !d.LogLevelChanged && !d.RubricChanged && !d.QuestionsChanged &&
		!d.VocabularyChanged && len(d.RestartRequired) == 0
}

// Diff compares old and new configs and returns what changed. Data file
// contents are compared by digest when both configs were loaded by a
// [Watcher]; otherwise only the paths are compared.
func Diff(old, new *Config) ConfigDiff {
	d := ConfigDiff{}

	if old.Server.LogLevel != new.Server.LogLevel {
		d.LogLevelChanged = true
		d.NewLogLevel = new.Server.LogLevel
	}

	d.RubricChanged = fileChanged(old, new, old.Evaluation.RubricFile, new.Evaluation.RubricFile)
	d.QuestionsChanged = fileChanged(old, new, old.Evaluation.QuestionsFile, new.Evaluation.QuestionsFile)
	d.VocabularyChanged = fileChanged(old, new, old.Evaluation.VocabularyFile, new.Evaluation.VocabularyFile) ||
		fileChanged(old, new, old.Evaluation.WordlistFile, new.Evaluation.WordlistFile) ||
		old.Evaluation.Language != new.Evaluation.Language ||
		old.Evaluation.Prompt != new.Evaluation.Prompt

	if old.Server.ListenAddr != new.Server.ListenAddr ||
		old.Server.RequestTimeout != new.Server.RequestTimeout ||
		old.Server.AudioDir != new.Server.AudioDir ||
		!reflect.DeepEqual(old.Server.TLS, new.Server.TLS) {
		d.RestartRequired = append(d.RestartRequired, "server")
	}
	if !reflect.DeepEqual(old.Providers, new.Providers) {
		d.RestartRequired = append(d.RestartRequired, "providers")
	}
	if old.Evaluation.MaxAudioSeconds != new.Evaluation.MaxAudioSeconds ||
		old.Evaluation.MaxConcurrency != new.Evaluation.MaxConcurrency {
		d.RestartRequired = append(d.RestartRequired, "evaluation")
	}
	if old.Store != new.Store {
		d.RestartRequired = append(d.RestartRequired, "store")
	}

	return d
}

// fileChanged reports whether a data file reference changed between old and
// new, either by path or by recorded content digest.
func fileChanged(old, new *Config, oldPath, newPath string) bool {
	if oldPath != newPath {
		return true
	}
	if oldPath == "" {
		return false
	}
	od, okOld := old.digests[oldPath]
	nd, okNew := new.digests[newPath]
	if !okOld || !okNew {
		return okOld != okNew
	}
	return od != nd
}
