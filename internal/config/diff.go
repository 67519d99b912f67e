package config

// ConfigDiff describes what changed between two configs. Only fields that
// are safe to hot-reload into a running [router.Engine] are tracked — model
// paths and the server listen address require a process restart and are
// intentionally excluded.
type ConfigDiff struct {
	MatcherChanged bool
	NewMatcher     MatcherConfig

	VADChanged bool
	NewVAD     VADConfig

	KeywordsChanged bool
	KeywordChanges  []KeywordDiff

	DOMChanged bool
	NewDOM     DOMConfig

	LogLevelChanged bool
	NewLogLevel     LogLevel
}

// KeywordDiff describes what changed for a single keyword between two configs.
type KeywordDiff struct {
	Name             string
	ThresholdChanged bool
	CooldownChanged  bool
	Added            bool
	Removed          bool
}

// Diff compares old and new configs and returns what changed. Only tracks
// changes that are safe to apply without restarting the pipeline stages
// that own model sessions.
func Diff(old, new *Config) ConfigDiff {
	d := ConfigDiff{}

	if old.Server.LogLevel != new.Server.LogLevel {
		d.LogLevelChanged = true
		d.NewLogLevel = new.Server.LogLevel
	}

	if old.Matcher != new.Matcher {
		d.MatcherChanged = true
		d.NewMatcher = new.Matcher
	}

	if old.VAD != new.VAD {
		d.VADChanged = true
		d.NewVAD = new.VAD
	}

	if !slicesEqualDenySelectors(old.DOM.GlobalDenySelectors, new.DOM.GlobalDenySelectors) {
		d.DOMChanged = true
		d.NewDOM = new.DOM
	}

	oldKW := make(map[string]KeywordSpec, len(old.Keyword))
	for _, k := range old.Keyword {
		oldKW[k.Name] = k
	}
	newKW := make(map[string]KeywordSpec, len(new.Keyword))
	for _, k := range new.Keyword {
		newKW[k.Name] = k
	}

	for name, o := range oldKW {
		n, exists := newKW[name]
		if !exists {
			d.KeywordChanges = append(d.KeywordChanges, KeywordDiff{Name: name, Removed: true})
			d.KeywordsChanged = true
			continue
		}
		kd := KeywordDiff{
			Name:             name,
			ThresholdChanged: o.Threshold != n.Threshold,
			CooldownChanged:  o.CooldownMs != n.CooldownMs,
		}
		if kd.ThresholdChanged || kd.CooldownChanged {
			d.KeywordChanges = append(d.KeywordChanges, kd)
			d.KeywordsChanged = true
		}
	}
	for name := range newKW {
		if _, exists := oldKW[name]; !exists {
			d.KeywordChanges = append(d.KeywordChanges, KeywordDiff{Name: name, Added: true})
			d.KeywordsChanged = true
		}
	}

	return d
}

func slicesEqualDenySelectors(a, b []string) bool {
	if len(a) != len(b) {
		return false
	}
	for i := range a {
		if a[i] != b[i] {
			return false
		}
	}
	return true
}
