package flagcore

import (
	"encoding/json"
	"strconv"
)

// flexInt64 accepts either a JSON number or a numeric string for the same
// field, normalizing to int64.
type flexInt64 int64

func (f *flexInt64) UnmarshalJSON(b []byte) error {
	var n int64
	if err := json.Unmarshal(b, &n); err == nil {
		*f = flexInt64(n)
		return nil
	}
	var s string
	if err := json.Unmarshal(b, &s); err != nil {
		return err
	}
	n, err := strconv.ParseInt(s, 10, 64)
	if err != nil {
		return err
	}
	*f = flexInt64(n)
	return nil
}

// configSpec is one APISpec entry — a gate, dynamic config, experiment, or
// layer definition.
type configSpec struct {
	Name               string            `json:"name"`
	Type               string            `json:"type"`
	Entity             string            `json:"entity"`
	Salt               string            `json:"salt"`
	Enabled            bool              `json:"enabled"`
	DefaultValue       json.RawMessage   `json:"defaultValue"`
	IDType             string            `json:"idType"`
	Rules              []configRule      `json:"rules"`
	ExplicitParameters []string          `json:"explicitParameters,omitempty"`
	HasSharedParams    *bool             `json:"hasSharedParams,omitempty"`
	IsActive           *bool             `json:"isActive,omitempty"`

	defaultValueJSON map[string]interface{}
}

// decodedDefault lazily unmarshals DefaultValue into a map, memoizing the
// result; dynamic_config/experiment/layer specs always carry a JSON object
// default.
func (s *configSpec) decodedDefault() map[string]interface{} {
	if s.defaultValueJSON != nil {
		return s.defaultValueJSON
	}
	var v map[string]interface{}
	if err := json.Unmarshal(s.DefaultValue, &v); err != nil || v == nil {
		v = map[string]interface{}{}
	}
	s.defaultValueJSON = v
	return v
}

func (s configSpec) isDynamicConfigLike() bool {
	return s.Type != "feature_gate"
}

// configRule is one APIRule entry.
type configRule struct {
	ID                string            `json:"id"`
	Name              string            `json:"name"`
	GroupName         string            `json:"groupName,omitempty"`
	Salt              string            `json:"salt,omitempty"`
	PassPercentage    float64           `json:"passPercentage"`
	ReturnValue       json.RawMessage   `json:"returnValue"`
	Conditions        []configCondition `json:"conditions"`
	IDType            string            `json:"idType"`
	ConfigDelegate    string            `json:"configDelegate,omitempty"`
	IsExperimentGroup *bool             `json:"isExperimentGroup,omitempty"`

	returnValueJSON map[string]interface{}
}

func (r *configRule) decodedReturnValue() map[string]interface{} {
	if r.returnValueJSON != nil {
		return r.returnValueJSON
	}
	var v map[string]interface{}
	if err := json.Unmarshal(r.ReturnValue, &v); err != nil || v == nil {
		v = map[string]interface{}{}
	}
	r.returnValueJSON = v
	return v
}

// configCondition is one APICondition entry.
type configCondition struct {
	Type             string                 `json:"type"`
	Operator         string                 `json:"operator,omitempty"`
	Field            string                 `json:"field,omitempty"`
	TargetValue      interface{}            `json:"targetValue,omitempty"`
	AdditionalValues map[string]interface{} `json:"additionalValues,omitempty"`
	IDType           string                 `json:"idType,omitempty"`
}

// downloadConfigSpecResponse is the /download_config_specs response body.
type downloadConfigSpecResponse struct {
	HasUpdates     bool         `json:"has_updates"`
	Time           flexInt64    `json:"time"`
	FeatureGates   []configSpec `json:"feature_gates"`
	DynamicConfigs []configSpec `json:"dynamic_configs"`
	LayerConfigs   []configSpec `json:"layer_configs"`
	// Layers maps layer name -> the experiments allocated into it, used to
	// build the store's experiment -> layer map (experimentToLayer).
	Layers map[string][]string `json:"layers"`
}

// logEventInput is the /log_event request body.
type logEventInput struct {
	Events          []interface{} `json:"events"`
	StatsigMetadata sdkMetadata   `json:"statsigMetadata"`
}
