// Package flags resolves the effective feature-flag set from the operator's
// base flags.
//
// Some flags imply others: master QA mode switches on every analysis stage it
// depends on. That coupling lives only in Resolve, and callers apply it on
// every read instead of persisting the derived values.
package flags

// FlagSet is the set of feature toggles that shape a run.
type FlagSet struct {
	MasterQAMode                bool `toml:"master_qa_mode" json:"masterQaMode"`
	KeyframePairAnalysisEnabled bool `toml:"keyframe_pair_analysis_enabled" json:"keyframePairAnalysisEnabled"`
	QualityGateEnabled          bool `toml:"quality_gate_enabled" json:"qualityGateEnabled"`
	AutoAnalysisEnabled         bool `toml:"auto_analysis_enabled" json:"autoAnalysisEnabled"`
	StrictPreflight             bool `toml:"strict_preflight" json:"strictPreflight"`
	PushTracking                bool `toml:"push_tracking" json:"pushTracking"`
	NotifyOnFail                bool `toml:"notify_on_fail" json:"notifyOnFail"`
	ArchiveArtifacts            bool `toml:"archive_artifacts" json:"archiveArtifacts"`
}

// Resolve derives the effective flag set. It is pure: the same base always
// yields the same result and base is never modified.
func Resolve(base FlagSet) FlagSet {
	effective := base
	if base.MasterQAMode {
		effective.KeyframePairAnalysisEnabled = true
		effective.QualityGateEnabled = true
		effective.AutoAnalysisEnabled = true
	}
	return effective
}

// Forced lists the flags that Resolve switched on which were off in base.
func Forced(base FlagSet) []string {
	effective := Resolve(base)
	var forced []string
	if effective.KeyframePairAnalysisEnabled && !base.KeyframePairAnalysisEnabled {
		forced = append(forced, "keyframe_pair_analysis_enabled")
	}
	if effective.QualityGateEnabled && !base.QualityGateEnabled {
		forced = append(forced, "quality_gate_enabled")
	}
	if effective.AutoAnalysisEnabled && !base.AutoAnalysisEnabled {
		forced = append(forced, "auto_analysis_enabled")
	}
	return forced
}

// Entry is one flag for display.
type Entry struct {
	Name      string
	Base      bool
	Effective bool
}

// Entries lists every flag with its base and effective value in a stable order.
func Entries(base FlagSet) []Entry {
	eff := Resolve(base)
	return []Entry{
		{"master_qa_mode", base.MasterQAMode, eff.MasterQAMode},
		{"keyframe_pair_analysis_enabled", base.KeyframePairAnalysisEnabled, eff.KeyframePairAnalysisEnabled},
		{"quality_gate_enabled", base.QualityGateEnabled, eff.QualityGateEnabled},
		{"auto_analysis_enabled", base.AutoAnalysisEnabled, eff.AutoAnalysisEnabled},
		{"strict_preflight", base.StrictPreflight, eff.StrictPreflight},
		{"push_tracking", base.PushTracking, eff.PushTracking},
		{"notify_on_fail", base.NotifyOnFail, eff.NotifyOnFail},
		{"archive_artifacts", base.ArchiveArtifacts, eff.ArchiveArtifacts},
	}
}
