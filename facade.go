package flagcore

import "sync"

var (
	instanceMu sync.RWMutex
	instance   *Driver
)

// IsInitialized reports whether the process-wide singleton has been set up.
func IsInitialized() bool {
	instanceMu.RLock()
	defer instanceMu.RUnlock()
	return instance != nil
}

// Initialize sets up the global driver with default Options. Re-entrant
// initialize is rejected.
func Initialize(secret string) error {
	return InitializeWithOptions(secret, &Options{})
}

// InitializeWithOptions sets up the global driver. Re-entrant initialize is
// rejected with ErrAlreadyInitialized.
func InitializeWithOptions(secret string, options *Options) error {
	instanceMu.Lock()
	defer instanceMu.Unlock()
	if instance != nil {
		return ErrAlreadyInitialized
	}
	newSessionID()
	driver := newDriver(options, secret)
	driver.initialize()
	instance = driver
	return nil
}

// Shutdown drains the background sync and logging tasks and clears the
// singleton so a later Initialize may succeed again.
func Shutdown() error {
	instanceMu.Lock()
	defer instanceMu.Unlock()
	if instance == nil {
		return nil
	}
	err := instance.Shutdown()
	instance = nil
	return err
}

func activeDriver() *Driver {
	instanceMu.RLock()
	defer instanceMu.RUnlock()
	if instance == nil {
		panic(ErrUninitialized)
	}
	return instance
}

// CheckGate checks the value of a feature gate for the given user.
func CheckGate(user User, gate string) bool {
	return activeDriver().CheckGate(user, gate)
}

// GetFeatureGate checks a feature gate and returns its full evaluation
// detail.
func GetFeatureGate(user User, gate string) FeatureGate {
	return activeDriver().GetFeatureGate(user, gate)
}

// GetConfig resolves a dynamic config for the given user.
func GetConfig(user User, config string) DynamicConfig {
	return activeDriver().GetConfig(user, config).Config
}

// GetExperiment resolves an experiment for the given user.
func GetExperiment(user User, experiment string) DynamicConfig {
	return activeDriver().GetExperiment(user, experiment).Config
}

// GetLayer resolves a layer for the given user; parameter accesses are
// exposure-logged lazily.
func GetLayer(user User, layer string) Layer {
	return activeDriver().GetLayer(user, layer)
}

// ManuallyLogGateExposure re-evaluates a feature gate and logs an exposure
// event unconditionally, independent of CheckGate/GetFeatureGate.
func ManuallyLogGateExposure(user User, gate string) {
	activeDriver().ManuallyLogGateExposure(user, gate)
}

// ManuallyLogConfigExposure re-evaluates a dynamic config and logs an
// exposure event unconditionally.
func ManuallyLogConfigExposure(user User, config string) {
	activeDriver().ManuallyLogConfigExposure(user, config)
}

// ManuallyLogExperimentExposure logs an exposure event for an experiment.
func ManuallyLogExperimentExposure(user User, experiment string) {
	activeDriver().ManuallyLogExperimentExposure(user, experiment)
}

// ManuallyLogLayerParameterExposure re-evaluates a layer and logs an
// exposure event for the given parameter unconditionally.
func ManuallyLogLayerParameterExposure(user User, layer string, parameter string) {
	activeDriver().ManuallyLogLayerParameterExposure(user, layer, parameter)
}

// OverrideGate overrides the value of a feature gate for every user,
// bypassing the rule set.
func OverrideGate(gate string, val bool) {
	activeDriver().OverrideGate(gate, val)
}

// OverrideConfig overrides the value of a dynamic config for every user,
// bypassing the rule set.
func OverrideConfig(config string, val map[string]interface{}) {
	activeDriver().OverrideConfig(config, val)
}

// LogEvent enqueues a caller-supplied custom event.
func LogEvent(event Event) {
	activeDriver().LogEvent(event)
}

// GetClientInitializeResponse renders the bootstrap document for thin
// clients.
func GetClientInitializeResponse(user User) ClientInitializeResponse {
	return activeDriver().GetClientInitializeResponse(user)
}
