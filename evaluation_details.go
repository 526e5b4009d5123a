package flagcore

import "fmt"

// EvaluationSource describes where the active rule-set snapshot came from.
type EvaluationSource string

const (
	SourceUninitialized EvaluationSource = "Uninitialized"
	SourceNetwork       EvaluationSource = "Network"
	SourceBootstrap     EvaluationSource = "Bootstrap"
	SourceDataAdapter   EvaluationSource = "DataAdapter"
)

// EvaluationReason further qualifies why an evaluation produced its result.
type EvaluationReason string

const (
	ReasonNone          EvaluationReason = "None"
	ReasonLocalOverride EvaluationReason = "LocalOverride"
	ReasonUnrecognized  EvaluationReason = "Unrecognized"
	ReasonUnsupported   EvaluationReason = "Unsupported"
)

// EvaluationDetails is attached to every EvalResult and surfaced in exposure
// event metadata.
type EvaluationDetails struct {
	Source         EvaluationSource
	Reason         EvaluationReason
	ConfigSyncTime int64
	InitTime       int64
	ServerTime     int64
}

func (d EvaluationDetails) detailedReason() string {
	if d.Reason == ReasonNone || d.Reason == "" {
		return string(d.Source)
	}
	return fmt.Sprintf("%s:%s", d.Source, d.Reason)
}

func newEvaluationDetails(source EvaluationSource, reason EvaluationReason, configSyncTime, initTime int64) *EvaluationDetails {
	return &EvaluationDetails{
		Source:         source,
		Reason:         reason,
		ConfigSyncTime: configSyncTime,
		InitTime:       initTime,
		ServerTime:     nowUnixMilli(),
	}
}
