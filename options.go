package flagcore

import "time"

// Options configures a Driver instance.
type Options struct {
	// API is the default base URL used for both download_config_specs and
	// log_event unless overridden below.
	API string
	// APIForDownloadConfigSpecs overrides the rule-set endpoint base URL;
	// special-cased against CDNOrigin to pick GET vs POST.
	APIForDownloadConfigSpecs string
	// Environment is merged into every evaluated/exposed user.
	Environment Environment
	// LocalMode disables all network I/O; useful for tests.
	LocalMode bool

	RulesetsSyncInterval time.Duration
	LoggerMaxQueueSize   int
	LoggerFlushInterval  time.Duration

	// DisableUserAgentSupport skips loading the embedded UA regex table.
	DisableUserAgentSupport bool
	IPCountryOptions        IPCountryOptions
	UAParserOptions         UAParserOptions

	// Datastore is a pluggable alternative source/sink for rule sets.
	Datastore Datastore
}

// Environment is merged into User.StatsigEnvironment before evaluation and
// exposure.
type Environment struct {
	Tier   string
	Params map[string]string
}

// IPCountryOptions controls the IP→country lookup lifecycle.
type IPCountryOptions struct {
	Disabled     bool
	LazyLoad     bool
	EnsureLoaded bool
}

// UAParserOptions controls the UA-parser lifecycle.
type UAParserOptions struct {
	Disabled     bool
	LazyLoad     bool
	EnsureLoaded bool
}

func (o Options) syncInterval() time.Duration {
	if o.RulesetsSyncInterval > 0 {
		return o.RulesetsSyncInterval
	}
	return 10 * time.Second
}

func (o Options) loggerMaxQueueSize() int {
	if o.LoggerMaxQueueSize > 0 {
		return o.LoggerMaxQueueSize
	}
	return 500
}

func (o Options) loggerFlushInterval() time.Duration {
	if o.LoggerFlushInterval > 0 {
		return o.LoggerFlushInterval
	}
	return 60 * time.Second
}

func (o Options) uaParserOptions() UAParserOptions {
	opts := o.UAParserOptions
	if o.DisableUserAgentSupport {
		opts.Disabled = true
	}
	return opts
}
