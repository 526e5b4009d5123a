package flagcore

// User carries the request-bound identity and attributes evaluated against
// a rule set.
//
// PrivateAttributes are usable for targeting but MUST NEVER leave the
// process in an exposure event; every exposure and custom event is logged
// with the copy returned by forExposure, which clears them.
type User struct {
	UserID             string                 `json:"userID,omitempty"`
	Email              string                 `json:"email,omitempty"`
	IPAddress          string                 `json:"ip,omitempty"`
	UserAgent          string                 `json:"userAgent,omitempty"`
	Country            string                 `json:"country,omitempty"`
	Locale             string                 `json:"locale,omitempty"`
	AppVersion         string                 `json:"appVersion,omitempty"`
	Custom             map[string]interface{} `json:"custom,omitempty"`
	PrivateAttributes  map[string]interface{} `json:"privateAttributes,omitempty"`
	StatsigEnvironment map[string]string      `json:"statsigEnvironment,omitempty"`
	CustomIDs          map[string]string      `json:"customIDs,omitempty"`
}

// forExposure returns a copy of the user with PrivateAttributes stripped,
// safe to serialize into an ExposureEvent.
func (u User) forExposure() User {
	u.PrivateAttributes = nil
	return u
}

// Event is a caller-supplied custom event logged through Driver.LogEvent.
type Event struct {
	EventName string            `json:"eventName"`
	User      User              `json:"user"`
	Value     string            `json:"value,omitempty"`
	Metadata  map[string]string `json:"metadata,omitempty"`
	Time      int64             `json:"time"`
}

// SecondaryExposure records a nested gate evaluation caused transitively by
// another spec's condition.
type SecondaryExposure map[string]string

// ExposureEventName enumerates the literal wire event names.
type ExposureEventName string

const (
	GateExposureEventName   ExposureEventName = "statsig::gate_exposure"
	ConfigExposureEventName ExposureEventName = "statsig::config_exposure"
	LayerExposureEventName  ExposureEventName = "statsig::layer_exposure"
)

// ExposureEvent is the wire shape logged for every evaluation.
type ExposureEvent struct {
	EventName          ExposureEventName   `json:"eventName"`
	User               User                `json:"user"`
	Value              *string             `json:"value"`
	Metadata           map[string]string   `json:"metadata"`
	SecondaryExposures []SecondaryExposure `json:"secondaryExposures"`
	Time               int64               `json:"time"`
}

// configBase is the shared representation behind DynamicConfig and Layer,
// with typed accessors that trigger a lazy per-parameter exposure for
// layers.
type configBase struct {
	Name        string
	Value       map[string]interface{}
	RuleID      string
	GroupName   string
	logExposure func(parameterName string)
}

// DynamicConfig is the resolved value of a dynamic_config or experiment for
// a user.
type DynamicConfig struct {
	configBase
}

// Layer is the resolved value of a layer for a user; individual parameter
// reads are exposure-logged lazily, not at construction time.
type Layer struct {
	configBase
}

// NewConfig builds a DynamicConfig with no lazy exposure hook (used for
// dynamic config/experiment results, which are exposure-logged eagerly by
// the driver).
func NewConfig(name string, value map[string]interface{}, ruleID, groupName string) DynamicConfig {
	if value == nil {
		value = map[string]interface{}{}
	}
	return DynamicConfig{configBase{Name: name, Value: value, RuleID: ruleID, GroupName: groupName}}
}

// NewLayer builds a Layer whose parameter accessors call logExposure lazily.
func NewLayer(name string, value map[string]interface{}, ruleID, groupName string, logExposure func(parameterName string)) Layer {
	if value == nil {
		value = map[string]interface{}{}
	}
	return Layer{configBase{Name: name, Value: value, RuleID: ruleID, GroupName: groupName, logExposure: logExposure}}
}

func (c *configBase) logParam(key string) {
	if c.logExposure != nil {
		c.logExposure(key)
	}
}

// GetString returns the string at key, or fallback if absent/wrong type.
func (c *configBase) GetString(key string, fallback string) string {
	if v, ok := c.Value[key].(string); ok {
		c.logParam(key)
		return v
	}
	return fallback
}

// GetNumber returns the number at key as a float64 (Go integer and float
// values are both accepted), or fallback if absent/wrong type.
func (c *configBase) GetNumber(key string, fallback float64) float64 {
	switch v := c.Value[key].(type) {
	case float64, float32, int, int32, int64, uint64:
		n, _ := numericValue(v)
		c.logParam(key)
		return n
	}
	return fallback
}

// GetBool returns the bool at key, or fallback if absent/wrong type.
func (c *configBase) GetBool(key string, fallback bool) bool {
	if v, ok := c.Value[key].(bool); ok {
		c.logParam(key)
		return v
	}
	return fallback
}

// GetSlice returns the []interface{} at key, or fallback if absent/wrong type.
func (c *configBase) GetSlice(key string, fallback []interface{}) []interface{} {
	if v, ok := c.Value[key].([]interface{}); ok {
		c.logParam(key)
		return v
	}
	return fallback
}

// GetMap returns the map[string]interface{} at key, or fallback if absent/wrong type.
func (c *configBase) GetMap(key string, fallback map[string]interface{}) map[string]interface{} {
	if v, ok := c.Value[key].(map[string]interface{}); ok {
		c.logParam(key)
		return v
	}
	return fallback
}
