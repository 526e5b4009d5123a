package flagcore

import (
	"crypto/sha256"
	"encoding/base64"
	"fmt"
	"strings"
)

// ClientInitializeResponse is the bootstrap document handed to thin clients.
type ClientInitializeResponse struct {
	FeatureGates   map[string]gateInitResponse   `json:"feature_gates"`
	DynamicConfigs map[string]configInitResponse `json:"dynamic_configs"`
	LayerConfigs   map[string]layerInitResponse  `json:"layer_configs"`
	SDKParams      map[string]string             `json:"sdkParams"`
	HasUpdates     bool                          `json:"has_updates"`
	Generator      string                        `json:"generator"`
	EvaluatedKeys  map[string]interface{}         `json:"evaluated_keys"`
	Time           int64                         `json:"time"`
}

type baseInitResponse struct {
	Name               string              `json:"name"`
	RuleID             string              `json:"rule_id"`
	SecondaryExposures []SecondaryExposure `json:"secondary_exposures"`
}

type gateInitResponse struct {
	baseInitResponse
	Value  bool   `json:"value"`
	IDType string `json:"id_type"`
}

type configInitResponse struct {
	baseInitResponse
	Value              map[string]interface{} `json:"value"`
	Group              string                 `json:"group"`
	GroupName          string                 `json:"group_name,omitempty"`
	IsDeviceBased      bool                   `json:"is_device_based"`
	IDType             string                 `json:"id_type,omitempty"`
	IsUserInExperiment *bool                  `json:"is_user_in_experiment,omitempty"`
	IsExperimentActive *bool                  `json:"is_experiment_active,omitempty"`
	IsInLayer          *bool                  `json:"is_in_layer,omitempty"`
	ExplicitParameters *[]string              `json:"explicit_parameters,omitempty"`
}

type layerInitResponse struct {
	baseInitResponse
	Value                         map[string]interface{} `json:"value"`
	Group                         string                  `json:"group"`
	IsDeviceBased                 bool                    `json:"is_device_based"`
	ExplicitParameters            []string                `json:"explicit_parameters"`
	UndelegatedSecondaryExposures []SecondaryExposure     `json:"undelegated_secondary_exposures"`
	AllocatedExperimentName       string                  `json:"allocated_experiment_name,omitempty"`
	IsUserInExperiment            *bool                   `json:"is_user_in_experiment,omitempty"`
	IsExperimentActive            *bool                   `json:"is_experiment_active,omitempty"`
}

func hashSpecName(name string) string {
	sum := sha256.Sum256([]byte(name))
	return base64.StdEncoding.EncodeToString(sum[:])
}

// cleanExposures de-duplicates secondary exposures by (gate, gateValue,
// ruleID), preserving first-seen order.
func cleanExposures(exposures []SecondaryExposure) []SecondaryExposure {
	seen := make(map[string]bool, len(exposures))
	out := make([]SecondaryExposure, 0, len(exposures))
	for _, exp := range exposures {
		key := fmt.Sprintf("%s|%s|%s", exp["gate"], exp["gateValue"], exp["ruleID"])
		if seen[key] {
			continue
		}
		seen[key] = true
		out = append(out, exp)
	}
	return out
}

func shallowMerge(base, overlay map[string]interface{}) map[string]interface{} {
	merged := make(map[string]interface{}, len(base)+len(overlay))
	for k, v := range base {
		merged[k] = v
	}
	for k, v := range overlay {
		merged[k] = v
	}
	return merged
}

// buildClientInitializeResponse renders the bootstrap document.
func buildClientInitializeResponse(user User, st *store, eval func(User, configSpec) *evalResult) ClientInitializeResponse {
	base := func(name string, result *evalResult) baseInitResponse {
		return baseInitResponse{
			Name:               hashSpecName(name),
			RuleID:             result.RuleID,
			SecondaryExposures: cleanExposures(result.SecondaryExposures),
		}
	}

	gates := make(map[string]gateInitResponse)
	for _, spec := range st.allGates() {
		entity := strings.ToLower(spec.Entity)
		if entity == "segment" || entity == "holdout" {
			continue
		}
		result := eval(user, spec)
		b := base(spec.Name, result)
		gates[b.Name] = gateInitResponse{baseInitResponse: b, Value: result.BoolValue, IDType: spec.IDType}
	}

	configs := make(map[string]configInitResponse)
	for _, spec := range st.allConfigs() {
		result := eval(user, spec)
		b := base(spec.Name, result)
		resp := configInitResponse{
			baseInitResponse: b,
			Value:            result.JSONValue,
			Group:            result.RuleID,
			GroupName:        result.GroupName,
			IsDeviceBased:    strings.ToLower(spec.IDType) == "stableid",
		}
		if strings.ToLower(spec.Entity) != "layer" {
			resp.IDType = spec.IDType
		}
		if strings.ToLower(spec.Entity) == "experiment" {
			inExperiment := result.IsExperimentGroup
			resp.IsUserInExperiment = &inExperiment
			active := spec.IsActive != nil && *spec.IsActive
			resp.IsExperimentActive = &active
			if spec.HasSharedParams != nil && *spec.HasSharedParams {
				inLayer := true
				resp.IsInLayer = &inLayer
				params := append([]string{}, spec.ExplicitParameters...)
				resp.ExplicitParameters = &params
				if layerName, ok := st.getExperimentLayer(spec.Name); ok {
					if layerSpec, ok := st.getLayerConfig(layerName); ok {
						resp.Value = shallowMerge(layerSpec.decodedDefault(), resp.Value)
					}
				}
			}
		}
		configs[b.Name] = resp
	}

	layers := make(map[string]layerInitResponse)
	for _, spec := range st.allLayers() {
		result := eval(user, spec)
		b := base(spec.Name, result)
		resp := layerInitResponse{
			baseInitResponse:              b,
			Value:                         result.JSONValue,
			Group:                         result.RuleID,
			IsDeviceBased:                 strings.ToLower(spec.IDType) == "stableid",
			UndelegatedSecondaryExposures: cleanExposures(result.UndelegatedSecondaryExposures),
			ExplicitParameters:            append([]string{}, spec.ExplicitParameters...),
		}
		if delegate := result.ConfigDelegate; delegate != "" {
			if delegateSpec, ok := st.getDynamicConfig(delegate); ok {
				delegateResult := eval(user, delegateSpec)
				resp.AllocatedExperimentName = hashSpecName(delegate)
				inExperiment := delegateResult.IsExperimentGroup
				resp.IsUserInExperiment = &inExperiment
				active := delegateSpec.IsActive != nil && *delegateSpec.IsActive
				resp.IsExperimentActive = &active
				if len(delegateSpec.ExplicitParameters) > 0 {
					resp.ExplicitParameters = delegateSpec.ExplicitParameters
				}
			}
		}
		layers[b.Name] = resp
	}

	return ClientInitializeResponse{
		FeatureGates:   gates,
		DynamicConfigs: configs,
		LayerConfigs:   layers,
		SDKParams:      map[string]string{},
		HasUpdates:     true,
		Generator:      "flagcore-go-sdk",
		EvaluatedKeys:  map[string]interface{}{"userID": user.UserID, "customIDs": user.CustomIDs},
		Time:           0,
	}
}
