package quality

import (
	"fmt"
	"time"

	"framegate/internal/config"
	"framegate/internal/services"
	"framegate/internal/similarity"
)

// Verdict is the outcome of the quality gate.
type Verdict string

const (
	VerdictPass Verdict = "PASS"
	VerdictWarn Verdict = "WARN"
	VerdictFail Verdict = "FAIL"
)

// Thresholds bound the verdict bands: FAIL below Fail, WARN in [Fail, Warn),
// PASS at or above Warn.
type Thresholds struct {
	Fail float64 `json:"fail"`
	Warn float64 `json:"warn"`
}

// ThresholdsFromConfig returns the configured default thresholds.
func ThresholdsFromConfig(cfg config.Quality) Thresholds {
	return Thresholds{Fail: cfg.FailThreshold, Warn: cfg.WarnThreshold}
}

// Validate enforces 0 <= Fail < Warn <= 100.
func (t Thresholds) Validate() error {
	if t.Fail < 0 || t.Warn > 100 {
		return services.Wrap(services.ErrValidation, "quality", "thresholds",
			fmt.Sprintf("thresholds must lie in [0,100], got fail=%.2f warn=%.2f", t.Fail, t.Warn), nil)
	}
	if t.Fail >= t.Warn {
		return services.Wrap(services.ErrValidation, "quality", "thresholds",
			fmt.Sprintf("fail threshold %.2f must be below warn threshold %.2f", t.Fail, t.Warn), nil)
	}
	return nil
}

// Classify maps an average similarity onto the verdict bands.
func (t Thresholds) Classify(average float64) Verdict {
	switch {
	case average < t.Fail:
		return VerdictFail
	case average < t.Warn:
		return VerdictWarn
	default:
		return VerdictPass
	}
}

// Baseline is the calibration record for one golden sample. A nil
// BaselineAverageSimilarity means no known-good run has been promoted yet.
type Baseline struct {
	SampleID                  string     `json:"sampleId"`
	BaselineAverageSimilarity *float64   `json:"baselineAverageSimilarity"`
	FailThreshold             float64    `json:"failThreshold"`
	WarnThreshold             float64    `json:"warnThreshold"`
	UpdatedAt                 *time.Time `json:"updatedAt,omitempty"`
}

// Uncalibrated returns a baseline with no promoted measurement.
func Uncalibrated(sampleID string, thresholds Thresholds) Baseline {
	return Baseline{SampleID: sampleID, FailThreshold: thresholds.Fail, WarnThreshold: thresholds.Warn}
}

// Thresholds returns the baseline's verdict bands.
func (b Baseline) Thresholds() Thresholds {
	return Thresholds{Fail: b.FailThreshold, Warn: b.WarnThreshold}
}

// Calibrated reports whether a measurement has been promoted.
func (b Baseline) Calibrated() bool {
	return b.BaselineAverageSimilarity != nil
}

// QualityVerdict is the gate's decision for one sample. Evaluated is false
// for degraded verdicts, where Reason explains why no score was produced.
type QualityVerdict struct {
	SampleID        string            `json:"sampleId"`
	Verdict         Verdict           `json:"verdict"`
	Measured        similarity.Result `json:"measured"`
	ThresholdsUsed  Thresholds        `json:"thresholdsUsed"`
	DeltaVsBaseline *float64          `json:"deltaVsBaseline"`
	Evaluated       bool              `json:"evaluated"`
	Reason          string            `json:"reason,omitempty"`
}

// Evaluate applies the baseline's thresholds to measured. The delta against
// a calibrated baseline is informational and never changes the verdict.
// Evaluate does not modify the baseline.
func Evaluate(measured similarity.Result, baseline Baseline) QualityVerdict {
	thresholds := baseline.Thresholds()
	if err := thresholds.Validate(); err != nil {
		v := Degraded(baseline.SampleID, err.Error())
		v.Measured = measured
		v.ThresholdsUsed = thresholds
		return v
	}
	verdict := QualityVerdict{
		SampleID:       baseline.SampleID,
		Verdict:        thresholds.Classify(measured.AverageSimilarity),
		Measured:       measured,
		ThresholdsUsed: thresholds,
		Evaluated:      true,
	}
	if baseline.Calibrated() {
		delta := measured.AverageSimilarity - *baseline.BaselineAverageSimilarity
		verdict.DeltaVsBaseline = &delta
	}
	return verdict
}

// Degraded builds the "could not evaluate" verdict used when the artifact
// could not be decoded or scored. It reports FAIL so an unscored artifact is
// never accepted automatically.
func Degraded(sampleID, reason string) QualityVerdict {
	return QualityVerdict{
		SampleID: sampleID,
		Verdict:  VerdictFail,
		Reason:   "could not evaluate: " + reason,
	}
}

// Decision is what the caller does with a verdict.
type Decision string

const (
	DecisionAccept        Decision = "accept"
	DecisionWarnAccept    Decision = "warn_accept"
	DecisionBlockOverride Decision = "block_override"
)

// Gate turns verdicts into decisions.
type Gate struct {
	// Strict blocks FAIL verdicts pending a human override. Permissive mode
	// accepts them with a warning.
	Strict bool
}

// Decide maps a verdict to a decision.
func (g Gate) Decide(v QualityVerdict) Decision {
	switch v.Verdict {
	case VerdictPass:
		return DecisionAccept
	case VerdictWarn:
		return DecisionWarnAccept
	default:
		if g.Strict {
			return DecisionBlockOverride
		}
		return DecisionWarnAccept
	}
}
