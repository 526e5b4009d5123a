package flagcore

// Driver is the evaluation orchestrator. Every entry point
// returns synchronously with no network I/O on the hot path; exposure
// events are enqueued after the evaluation completes and shipped by the
// background logger.
type Driver struct {
	options   *Options
	transport *transport
	store     *store
	evaluator *evaluator
	logger    *logger
	country   *countryLookup
	ua        *uaParser
}

// FeatureGate is the resolved value of a check_gate/get_feature_gate call.
type FeatureGate struct {
	Name              string
	Value             bool
	RuleID            string
	EvaluationDetails EvaluationDetails
}

// ConfigResult is the resolved value of a get_config/get_experiment call.
type ConfigResult struct {
	Config            DynamicConfig
	EvaluationDetails EvaluationDetails
}

func newDriver(options *Options, secret string) *Driver {
	outputLogger := defaultOutputLogger
	transport := newTransport(secret, options, outputLogger)
	country := newCountryLookup(options.IPCountryOptions)
	ua := newUAParser(options.uaParserOptions())
	st := newStore(transport, options.Datastore, options.syncInterval(), outputLogger)
	return &Driver{
		options:   options,
		transport: transport,
		store:     st,
		evaluator: newEvaluator(st, country, ua),
		logger:    newLogger(transport, options.loggerMaxQueueSize(), options.loggerFlushInterval(), outputLogger),
		country:   country,
		ua:        ua,
	}
}

func (d *Driver) initialize() {
	d.store.initialize()
}

// normalizeUser overrides user.StatsigEnvironment with Options.Environment
// before evaluation/exposure.
func (d *Driver) normalizeUser(user User) User {
	if d.options.Environment.Tier == "" && len(d.options.Environment.Params) == 0 {
		return user
	}
	env := make(map[string]string, len(d.options.Environment.Params)+1)
	for k, v := range d.options.Environment.Params {
		env[k] = v
	}
	if d.options.Environment.Tier != "" {
		env["tier"] = d.options.Environment.Tier
	}
	user.StatsigEnvironment = env
	return user
}

// CheckGate checks the value of a feature gate for the given user.
func (d *Driver) CheckGate(user User, name string) bool {
	return d.GetFeatureGate(user, name).Value
}

// GetFeatureGate checks a feature gate and returns its full evaluation detail.
func (d *Driver) GetFeatureGate(user User, name string) FeatureGate {
	user = d.normalizeUser(user)
	result := d.evaluator.checkGate(user, name)
	d.logger.logGateExposure(user, name, result, false)
	return FeatureGate{
		Name:              name,
		Value:             result.BoolValue,
		RuleID:            result.RuleID,
		EvaluationDetails: *result.EvaluationDetails,
	}
}

// GetConfig resolves a dynamic config for the given user.
func (d *Driver) GetConfig(user User, name string) ConfigResult {
	user = d.normalizeUser(user)
	result := d.evaluator.getConfig(user, name)
	d.logger.logConfigExposure(user, name, result, false)
	return ConfigResult{
		Config:            NewConfig(name, result.JSONValue, result.RuleID, result.GroupName),
		EvaluationDetails: *result.EvaluationDetails,
	}
}

// GetExperiment resolves an experiment for the given user (delegates to
// get_config; experiments and dynamic configs share a wire shape).
func (d *Driver) GetExperiment(user User, name string) ConfigResult {
	return d.GetConfig(user, name)
}

// GetLayer resolves a layer for the given user; parameter exposures are
// logged lazily on access, not at construction time.
func (d *Driver) GetLayer(user User, name string) Layer {
	user = d.normalizeUser(user)
	result := d.evaluator.getLayer(user, name)
	logExposure := func(parameterName string) {
		d.logger.logLayerExposure(user, name, parameterName, result, false)
	}
	return NewLayer(name, result.JSONValue, result.RuleID, result.GroupName, logExposure)
}

// ManuallyLogGateExposure re-evaluates a feature gate and logs an exposure
// event unconditionally, independent of CheckGate/GetFeatureGate.
func (d *Driver) ManuallyLogGateExposure(user User, name string) {
	user = d.normalizeUser(user)
	result := d.evaluator.checkGate(user, name)
	d.logger.logGateExposure(user, name, result, true)
}

// ManuallyLogConfigExposure re-evaluates a dynamic config and logs an
// exposure event unconditionally.
func (d *Driver) ManuallyLogConfigExposure(user User, name string) {
	user = d.normalizeUser(user)
	result := d.evaluator.getConfig(user, name)
	d.logger.logConfigExposure(user, name, result, true)
}

// ManuallyLogExperimentExposure logs an exposure event for an experiment;
// experiments and dynamic configs share an exposure wire shape.
func (d *Driver) ManuallyLogExperimentExposure(user User, name string) {
	d.ManuallyLogConfigExposure(user, name)
}

// ManuallyLogLayerParameterExposure re-evaluates a layer and logs an
// exposure event for the given parameter unconditionally.
func (d *Driver) ManuallyLogLayerParameterExposure(user User, layer string, parameter string) {
	user = d.normalizeUser(user)
	result := d.evaluator.getLayer(user, layer)
	d.logger.logLayerExposure(user, layer, parameter, result, true)
}

// LogEvent enqueues a caller-supplied custom event.
func (d *Driver) LogEvent(event Event) {
	if event.Time == 0 {
		event.Time = nowUnixMilli()
	}
	event.User = event.User.forExposure()
	d.logger.logCustomEvent(event)
}

// GetClientInitializeResponse renders the bootstrap document for thin clients.
func (d *Driver) GetClientInitializeResponse(user User) ClientInitializeResponse {
	user = d.normalizeUser(user)
	return buildClientInitializeResponse(user, d.store, func(u User, spec configSpec) *evalResult {
		return d.evaluator.eval(u, spec, 0)
	})
}

func (d *Driver) OverrideGate(name string, value bool) {
	d.evaluator.OverrideGate(name, value)
}

func (d *Driver) OverrideConfig(name string, value map[string]interface{}) {
	d.evaluator.OverrideConfig(name, value)
}

// Shutdown stops the background sync loop, drains the exposure queue, and
// flushes it once more synchronously.
func (d *Driver) Shutdown() error {
	err := d.store.shutdownStore()
	d.logger.shutdownLogger()
	return err
}
