package flagcore

import (
	"crypto/sha256"
	"encoding/binary"
	"fmt"
	"reflect"
	"regexp"
	"strconv"
	"strings"
	"sync"
	"time"
)

// maxDelegateDepth caps recursive gate/delegate evaluation.
const maxDelegateDepth = 16

const maxUserAgentLength = 1000

// evaluator is the pure, deterministic evaluation engine. It
// never performs network I/O; it only reads the store's current snapshot
// and the country/UA lookup tables.
type evaluator struct {
	store         *store
	countryLookup *countryLookup
	uaParser      *uaParser

	gateOverridesLock   sync.RWMutex
	gateOverrides       map[string]bool
	configOverridesLock sync.RWMutex
	configOverrides     map[string]map[string]interface{}
}

func newEvaluator(st *store, country *countryLookup, ua *uaParser) *evaluator {
	return &evaluator{
		store:           st,
		countryLookup:   country,
		uaParser:        ua,
		gateOverrides:   make(map[string]bool),
		configOverrides: make(map[string]map[string]interface{}),
	}
}

// evalResult is the outcome of evaluating one gate, config, or layer.
type evalResult struct {
	BoolValue                     bool
	JSONValue                     map[string]interface{}
	RuleID                        string
	GroupName                     string
	IsExperimentGroup             bool
	ConfigDelegate                string
	ExplicitParameters            []string
	SecondaryExposures            []SecondaryExposure
	UndelegatedSecondaryExposures []SecondaryExposure
	Unsupported                   bool
	EvaluationDetails             *EvaluationDetails
}

func (e *evaluator) OverrideGate(name string, val bool) {
	e.gateOverridesLock.Lock()
	defer e.gateOverridesLock.Unlock()
	e.gateOverrides[name] = val
}

func (e *evaluator) OverrideConfig(name string, val map[string]interface{}) {
	e.configOverridesLock.Lock()
	defer e.configOverridesLock.Unlock()
	e.configOverrides[name] = val
}

func (e *evaluator) gateOverride(name string) (bool, bool) {
	e.gateOverridesLock.RLock()
	defer e.gateOverridesLock.RUnlock()
	v, ok := e.gateOverrides[name]
	return v, ok
}

func (e *evaluator) configOverride(name string) (map[string]interface{}, bool) {
	e.configOverridesLock.RLock()
	defer e.configOverridesLock.RUnlock()
	v, ok := e.configOverrides[name]
	return v, ok
}

func (e *evaluator) evalDetails(reason EvaluationReason) *EvaluationDetails {
	source, syncTime, initTime := e.store.sourceInfo()
	return newEvaluationDetails(source, reason, syncTime, initTime)
}

func (e *evaluator) checkGate(user User, name string) *evalResult {
	return e.checkGateDepth(user, name, 0)
}

func (e *evaluator) checkGateDepth(user User, name string, depth int) *evalResult {
	if override, ok := e.gateOverride(name); ok {
		return &evalResult{BoolValue: override, RuleID: "override", EvaluationDetails: e.evalDetails(ReasonLocalOverride)}
	}
	spec, ok := e.store.getGate(name)
	if !ok {
		return &evalResult{RuleID: "default", EvaluationDetails: e.evalDetails(ReasonUnrecognized)}
	}
	return e.eval(user, spec, depth)
}

func (e *evaluator) getConfig(user User, name string) *evalResult {
	if override, ok := e.configOverride(name); ok {
		return &evalResult{
			BoolValue:         true,
			JSONValue:         override,
			RuleID:            "override",
			EvaluationDetails: e.evalDetails(ReasonLocalOverride),
		}
	}
	spec, ok := e.store.getDynamicConfig(name)
	if !ok {
		return &evalResult{RuleID: "default", EvaluationDetails: e.evalDetails(ReasonUnrecognized)}
	}
	return e.eval(user, spec, 0)
}

func (e *evaluator) getLayer(user User, name string) *evalResult {
	spec, ok := e.store.getLayerConfig(name)
	if !ok {
		return &evalResult{RuleID: "default", EvaluationDetails: e.evalDetails(ReasonUnrecognized)}
	}
	return e.eval(user, spec, 0)
}

// eval walks a spec's rules in order and returns the first matching result.
func (e *evaluator) eval(user User, spec configSpec, depth int) *evalResult {
	details := e.evalDetails(ReasonNone)
	defaultValue := spec.decodedDefault()

	if !spec.Enabled {
		return &evalResult{
			JSONValue:         defaultValue,
			RuleID:            "disabled",
			EvaluationDetails: details,
		}
	}

	if depth > maxDelegateDepth {
		return &evalResult{Unsupported: true, RuleID: "default", EvaluationDetails: details}
	}

	var exposures []SecondaryExposure
	for _, rule := range spec.Rules {
		ruleResult := e.evalRule(user, rule, depth)
		exposures = append(exposures, ruleResult.SecondaryExposures...)
		if ruleResult.Unsupported {
			return &evalResult{Unsupported: true, SecondaryExposures: exposures, EvaluationDetails: details}
		}
		if !ruleResult.Pass {
			continue
		}

		if rule.ConfigDelegate != "" {
			if delegate, ok := e.store.getDynamicConfig(rule.ConfigDelegate); ok {
				result := e.eval(user, delegate, depth+1)
				result.ConfigDelegate = rule.ConfigDelegate
				result.UndelegatedSecondaryExposures = exposures
				result.SecondaryExposures = append(append([]SecondaryExposure{}, exposures...), result.SecondaryExposures...)
				result.ExplicitParameters = delegate.ExplicitParameters
				return result
			}
		}

		pass := evalPassPercent(user, rule, spec)
		result := &evalResult{
			BoolValue:                     pass,
			RuleID:                        rule.ID,
			GroupName:                     rule.GroupName,
			IsExperimentGroup:             rule.IsExperimentGroup != nil && *rule.IsExperimentGroup,
			SecondaryExposures:            exposures,
			UndelegatedSecondaryExposures: exposures,
			EvaluationDetails:             details,
		}
		if pass {
			result.JSONValue = rule.decodedReturnValue()
		} else {
			result.JSONValue = defaultValue
		}
		return result
	}

	return &evalResult{
		JSONValue:                     defaultValue,
		RuleID:                        "default",
		SecondaryExposures:            exposures,
		UndelegatedSecondaryExposures: exposures,
		EvaluationDetails:             details,
	}
}

type ruleEvalResult struct {
	Pass               bool
	Unsupported        bool
	SecondaryExposures []SecondaryExposure
}

func (e *evaluator) evalRule(user User, rule configRule, depth int) ruleEvalResult {
	result := ruleEvalResult{Pass: true}
	for _, cond := range rule.Conditions {
		condResult := e.evalCondition(user, cond, depth)
		if condResult.Unsupported {
			result.Unsupported = true
		}
		if !condResult.Pass {
			result.Pass = false
		}
		result.SecondaryExposures = append(result.SecondaryExposures, condResult.SecondaryExposures...)
	}
	return result
}

type conditionResult struct {
	Pass               bool
	Unsupported        bool
	SecondaryExposures []SecondaryExposure
}

// evalCondition evaluates a single condition against a user.
func (e *evaluator) evalCondition(user User, cond configCondition, depth int) conditionResult {
	condType := strings.ToLower(cond.Type)
	op := strings.ToLower(cond.Operator)

	var value interface{}
	switch condType {
	case "public":
		return conditionResult{Pass: true}
	case "pass_gate", "fail_gate":
		targetGate, ok := cond.TargetValue.(string)
		if !ok {
			return conditionResult{Pass: false}
		}
		gateResult := e.checkGateDepth(user, targetGate, depth+1)
		if gateResult.Unsupported {
			return conditionResult{Unsupported: true}
		}
		exposure := SecondaryExposure{
			"gate":      targetGate,
			"gateValue": strconv.FormatBool(gateResult.BoolValue),
			"ruleID":    gateResult.RuleID,
		}
		exposures := append(append([]SecondaryExposure{}, gateResult.SecondaryExposures...), exposure)
		pass := gateResult.BoolValue
		if condType == "fail_gate" {
			pass = !pass
		}
		return conditionResult{Pass: pass, SecondaryExposures: exposures}
	case "user_field":
		value = getFromUser(user, cond.Field)
	case "environment_field":
		value = getFromEnvironment(user, cond.Field)
	case "ip_based":
		value = getFromUser(user, cond.Field)
		if (value == nil || value == "") && strings.ToLower(cond.Field) == "country" {
			value = e.getFromIP(user)
		}
	case "ua_based":
		value = getFromUser(user, cond.Field)
		if value == nil || value == "" {
			value = e.getFromUserAgent(user, cond.Field)
		}
	case "current_time":
		value = strconv.FormatInt(nowUnixMilli(), 10)
	case "user_bucket":
		salt, _ := cond.AdditionalValues["salt"].(string)
		unit := unitID(user, cond.IDType)
		value = float64(consistentHash(fmt.Sprintf("%s.%s", salt, unit)) % 1000)
	case "unit_id":
		value = unitID(user, cond.IDType)
	default:
		return conditionResult{Unsupported: true}
	}

	pass, unsupported := applyOperator(op, value, cond.TargetValue)
	return conditionResult{Pass: pass, Unsupported: unsupported}
}

func applyOperator(op string, value, target interface{}) (pass bool, unsupported bool) {
	switch op {
	case "gt":
		return compareNumbers(value, target, func(x, y float64) bool { return x > y }), false
	case "gte":
		return compareNumbers(value, target, func(x, y float64) bool { return x >= y }), false
	case "lt":
		return compareNumbers(value, target, func(x, y float64) bool { return x < y }), false
	case "lte":
		return compareNumbers(value, target, func(x, y float64) bool { return x <= y }), false
	case "version_gt":
		return compareVersions(value, target, func(x, y string) bool { return compareVersionParts(x, y) > 0 }), false
	case "version_gte":
		return compareVersions(value, target, func(x, y string) bool { return compareVersionParts(x, y) >= 0 }), false
	case "version_lt":
		return compareVersions(value, target, func(x, y string) bool { return compareVersionParts(x, y) < 0 }), false
	case "version_lte":
		return compareVersions(value, target, func(x, y string) bool { return compareVersionParts(x, y) <= 0 }), false
	case "version_eq":
		return compareVersions(value, target, func(x, y string) bool { return compareVersionParts(x, y) == 0 }), false
	case "version_neq":
		return compareVersions(value, target, func(x, y string) bool { return compareVersionParts(x, y) != 0 }), false
	case "any":
		return arrayAny(target, value, func(a, b interface{}) bool { return compareStrings(a, b, true, equalStrings) }), false
	case "none":
		return !arrayAny(target, value, func(a, b interface{}) bool { return compareStrings(a, b, true, equalStrings) }), false
	case "any_case_sensitive":
		return arrayAny(target, value, func(a, b interface{}) bool { return compareStrings(a, b, false, equalStrings) }), false
	case "none_case_sensitive":
		return !arrayAny(target, value, func(a, b interface{}) bool { return compareStrings(a, b, false, equalStrings) }), false
	case "str_starts_with_any":
		return arrayAny(target, value, func(a, b interface{}) bool { return compareStrings(a, b, true, strings.HasPrefix) }), false
	case "str_ends_with_any":
		return arrayAny(target, value, func(a, b interface{}) bool { return compareStrings(a, b, true, strings.HasSuffix) }), false
	case "str_contains_any":
		return arrayAny(target, value, func(a, b interface{}) bool { return compareStrings(a, b, true, strings.Contains) }), false
	case "str_contains_none":
		return !arrayAny(target, value, func(a, b interface{}) bool { return compareStrings(a, b, true, strings.Contains) }), false
	case "str_matches":
		pattern, ok := target.(string)
		str, ok2 := value.(string)
		if !ok || !ok2 {
			return false, false
		}
		matched, err := regexp.MatchString(pattern, str)
		return err == nil && matched, false
	case "eq", "neq":
		var equal bool
		if target == nil {
			equal = value == nil || value == ""
		} else {
			equal = reflect.DeepEqual(value, target)
		}
		if op == "eq" {
			return equal, false
		}
		return !equal, false
	case "before":
		return parseTime(value).Before(parseTime(target)), false
	case "after":
		return parseTime(value).After(parseTime(target)), false
	case "on":
		y1, m1, d1 := parseTime(value).Date()
		y2, m2, d2 := parseTime(target).Date()
		return y1 == y2 && m1 == m2 && d1 == d2, false
	default:
		return false, true
	}
}

func equalStrings(a, b string) bool { return a == b }

// evalPassPercent applies the rule's rollout percentage via consistent hashing.
func evalPassPercent(user User, rule configRule, spec configSpec) bool {
	salt := defaultString(rule.Salt, rule.ID)
	unit := unitID(user, rule.IDType)
	h := consistentHash(spec.Salt + "." + salt + "." + unit)
	return h%10000 < uint64(rule.PassPercentage*100)
}

// unitID resolves the identifier a rule buckets on for a given id type.
func unitID(user User, idType string) string {
	if idType == "" || strings.ToLower(idType) == "userid" {
		return user.UserID
	}
	if v, ok := user.CustomIDs[idType]; ok {
		return v
	}
	if v, ok := user.CustomIDs[strings.ToLower(idType)]; ok {
		return v
	}
	return ""
}

// getFromUser resolves a user field, falling back to custom and private attributes.
func getFromUser(user User, field string) interface{} {
	var value interface{}
	switch strings.ToLower(field) {
	case "userid", "user_id":
		value = user.UserID
	case "email":
		value = user.Email
	case "ip", "ipaddress", "ip_address":
		value = user.IPAddress
	case "useragent", "user_agent":
		value = user.UserAgent
	case "country":
		value = user.Country
	case "locale":
		value = user.Locale
	case "appversion", "app_version":
		value = user.AppVersion
	}
	if value == nil || value == "" {
		if v, ok := user.Custom[field]; ok {
			value = v
		} else if v, ok := user.Custom[strings.ToLower(field)]; ok {
			value = v
		} else if v, ok := user.PrivateAttributes[field]; ok {
			value = v
		} else if v, ok := user.PrivateAttributes[strings.ToLower(field)]; ok {
			value = v
		}
	}
	return value
}

func getFromEnvironment(user User, field string) string {
	if v, ok := user.StatsigEnvironment[field]; ok {
		return v
	}
	if v, ok := user.StatsigEnvironment[strings.ToLower(field)]; ok {
		return v
	}
	return ""
}

func (e *evaluator) getFromIP(user User) string {
	ip := user.IPAddress
	if ip == "" {
		return ""
	}
	v, ok := e.countryLookup.lookupIP(ip)
	if !ok {
		return ""
	}
	return v
}

func (e *evaluator) getFromUserAgent(user User, field string) string {
	if len(user.UserAgent) > maxUserAgentLength {
		return ""
	}
	client := e.uaParser.parse(user.UserAgent)
	if client == nil {
		return ""
	}
	switch strings.ToLower(field) {
	case "os_name", "osname":
		return client.Os.Family
	case "os_version", "osversion":
		return versionTriplet(client.Os.Major, client.Os.Minor, client.Os.Patch)
	case "browser_name", "browsername":
		return client.UserAgent.Family
	case "browser_version", "browserversion":
		return versionTriplet(client.UserAgent.Major, client.UserAgent.Minor, client.UserAgent.Patch)
	}
	return ""
}

func versionTriplet(major, minor, patch string) string {
	parts := []string{defaultString(major, "0"), defaultString(minor, "0"), defaultString(patch, "0")}
	return strings.Join(parts, ".")
}

// consistentHash hashes a key with sha256 and reads the first 8 bytes big-endian.
func consistentHash(key string) uint64 {
	h := sha256.Sum256([]byte(key))
	return binary.BigEndian.Uint64(h[:8])
}

func numericValue(v interface{}) (float64, bool) {
	switch n := v.(type) {
	case int:
		return float64(n), true
	case int32:
		return float64(n), true
	case int64:
		return float64(n), true
	case uint64:
		return float64(n), true
	case float32:
		return float64(n), true
	case float64:
		return n, true
	case string:
		f, err := strconv.ParseFloat(n, 64)
		return f, err == nil
	default:
		return 0, false
	}
}

func compareNumbers(a, b interface{}, cmp func(x, y float64) bool) bool {
	x, okX := numericValue(a)
	y, okY := numericValue(b)
	if !okX || !okY {
		return false
	}
	return cmp(x, y)
}

func compareStrings(a, b interface{}, ignoreCase bool, cmp func(x, y string) bool) bool {
	if a == nil || b == nil {
		return false
	}
	str := func(v interface{}) string {
		if s, ok := v.(string); ok {
			return s
		}
		return fmt.Sprintf("%v", v)
	}
	s1, s2 := str(a), str(b)
	if ignoreCase {
		s1, s2 = strings.ToLower(s1), strings.ToLower(s2)
	}
	return cmp(s1, s2)
}

func arrayAny(arr, val interface{}, fn func(a, b interface{}) bool) bool {
	list, ok := arr.([]interface{})
	if !ok {
		return false
	}
	for _, item := range list {
		if fn(val, item) {
			return true
		}
	}
	return false
}

func compareVersions(a, b interface{}, cmp func(x, y string) bool) bool {
	strA, okA := a.(string)
	strB, okB := b.(string)
	if !okA || !okB {
		return false
	}
	v1 := strings.SplitN(strA, "-", 2)[0]
	v2 := strings.SplitN(strB, "-", 2)[0]
	if v1 == "" || v2 == "" {
		return false
	}
	return cmp(v1, v2)
}

func compareVersionParts(v1, v2 string) int {
	p1 := strings.Split(v1, ".")
	p2 := strings.Split(v2, ".")
	for i := 0; i < max(len(p1), len(p2)); i++ {
		a := partAt(p1, i)
		b := partAt(p2, i)
		na, _ := strconv.ParseInt(a, 10, 64)
		nb, _ := strconv.ParseInt(b, 10, 64)
		if na != nb {
			if na < nb {
				return -1
			}
			return 1
		}
	}
	return 0
}

func partAt(parts []string, i int) string {
	if i >= len(parts) {
		return "0"
	}
	return parts[i]
}

func max(a, b int) int {
	if a > b {
		return a
	}
	return b
}

// parseTime backs the "before"/"after"/"on" operators: numeric values are
// tried as both seconds and milliseconds, and the millisecond
// interpretation wins when the second interpretation lands implausibly far
// in the future.
func parseTime(v interface{}) time.Time {
	var asInt64 func(interface{}) (int64, bool)
	asInt64 = func(v interface{}) (int64, bool) {
		switch n := v.(type) {
		case float64:
			return int64(n), true
		case int64:
			return n, true
		case int32:
			return int64(n), true
		case int:
			return int64(n), true
		case string:
			i, err := strconv.ParseInt(n, 10, 64)
			return i, err == nil
		default:
			return 0, false
		}
	}
	n, ok := asInt64(v)
	if !ok {
		return time.Time{}
	}
	asSeconds := time.Unix(n, 0)
	asMillis := time.Unix(n/1000, 0)
	if asSeconds.Year() > now().Year()+100 {
		return asMillis
	}
	return asSeconds
}
