package flagcore

import (
	"compress/gzip"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"
)

func newExposureTestDriver(t *testing.T, handler func(logEventInput)) *Driver {
	t.Helper()
	testServer := httptest.NewServer(http.HandlerFunc(func(res http.ResponseWriter, req *http.Request) {
		gz, err := gzip.NewReader(req.Body)
		if err != nil {
			t.Fatalf("expected gzip body: %v", err)
		}
		var body logEventInput
		_ = json.NewDecoder(gz).Decode(&body)
		handler(body)
		res.WriteHeader(http.StatusOK)
	}))
	t.Cleanup(testServer.Close)

	d := newDriver(&Options{API: testServer.URL, RulesetsSyncInterval: time.Hour, LoggerFlushInterval: time.Hour}, "secret")
	d.store.setConfigSpecs(downloadConfigSpecResponse{
		HasUpdates: true,
		Time:       1,
		FeatureGates: []configSpec{
			specWithRule("always_on_gate", alwaysPassRule("r1")),
		},
		DynamicConfigs: []configSpec{
			{Name: "test_config", Type: "dynamic_config", Enabled: true, DefaultValue: json.RawMessage(`{"x":1}`), Rules: []configRule{alwaysPassRule("r1")}},
			{Name: "sample_experiment", Type: "dynamic_config", Enabled: true, DefaultValue: json.RawMessage(`{"x":1}`), Rules: []configRule{alwaysPassRule("r1")}},
		},
		LayerConfigs: []configSpec{
			{Name: "a_layer", Type: "layer_config", Enabled: true, DefaultValue: json.RawMessage(`{"experiment_param":"v"}`), Rules: []configRule{alwaysPassRule("r1")}},
		},
	})
	t.Cleanup(func() { d.Shutdown() })
	return d
}

func TestDriverManualExposureLoggingSendsFourEvents(t *testing.T) {
	var mu sync.Mutex
	var events []logEventInput

	d := newExposureTestDriver(t, func(body logEventInput) {
		mu.Lock()
		events = append(events, body)
		mu.Unlock()
	})

	user := User{UserID: "some_user_id"}
	d.ManuallyLogGateExposure(user, "always_on_gate")
	d.ManuallyLogConfigExposure(user, "test_config")
	d.ManuallyLogExperimentExposure(user, "sample_experiment")
	d.ManuallyLogLayerParameterExposure(user, "a_layer", "experiment_param")
	d.logger.flush()

	mu.Lock()
	defer mu.Unlock()
	total := 0
	for _, e := range events {
		total += len(e.Events)
	}
	if total != 4 {
		t.Fatalf("expected exactly 4 manually-logged exposure events, got %d", total)
	}
}

func TestDriverManualGateExposureMarksIsManualExposure(t *testing.T) {
	var mu sync.Mutex
	var events []logEventInput

	d := newExposureTestDriver(t, func(body logEventInput) {
		mu.Lock()
		events = append(events, body)
		mu.Unlock()
	})

	d.ManuallyLogGateExposure(User{UserID: "u1"}, "always_on_gate")
	d.logger.flush()

	mu.Lock()
	defer mu.Unlock()
	if len(events) != 1 || len(events[0].Events) != 1 {
		t.Fatalf("expected exactly one gate exposure event, got %+v", events)
	}
	raw, err := json.Marshal(events[0].Events[0])
	if err != nil {
		t.Fatal(err)
	}
	var exposure ExposureEvent
	if err := json.Unmarshal(raw, &exposure); err != nil {
		t.Fatal(err)
	}
	if exposure.EventName != GateExposureEventName {
		t.Errorf("expected gate exposure event name, got %q", exposure.EventName)
	}
	if exposure.Metadata["gate"] != "always_on_gate" {
		t.Errorf("expected gate metadata to name the gate, got %q", exposure.Metadata["gate"])
	}
	if exposure.Metadata["isManualExposure"] != "true" {
		t.Errorf("expected isManualExposure metadata, got %q", exposure.Metadata["isManualExposure"])
	}
}

func TestDriverRegularCheckGateDoesNotMarkIsManualExposure(t *testing.T) {
	var mu sync.Mutex
	var events []logEventInput

	d := newExposureTestDriver(t, func(body logEventInput) {
		mu.Lock()
		events = append(events, body)
		mu.Unlock()
	})

	d.CheckGate(User{UserID: "u1"}, "always_on_gate")
	d.logger.flush()

	mu.Lock()
	defer mu.Unlock()
	if len(events) != 1 || len(events[0].Events) != 1 {
		t.Fatalf("expected exactly one gate exposure event, got %+v", events)
	}
	raw, _ := json.Marshal(events[0].Events[0])
	var exposure ExposureEvent
	_ = json.Unmarshal(raw, &exposure)
	if _, ok := exposure.Metadata["isManualExposure"]; ok {
		t.Errorf("expected no isManualExposure metadata on a regular CheckGate, got %q", exposure.Metadata["isManualExposure"])
	}
}

func TestFacadeManuallyLogExposuresDelegateToDriver(t *testing.T) {
	resetFacade(t)

	var mu sync.Mutex
	var events []logEventInput
	testServer := httptest.NewServer(http.HandlerFunc(func(res http.ResponseWriter, req *http.Request) {
		if !strings.Contains(req.URL.Path, "log_event") {
			res.WriteHeader(http.StatusOK)
			_ = json.NewEncoder(res).Encode(downloadConfigSpecResponse{HasUpdates: false})
			return
		}
		gz, err := gzip.NewReader(req.Body)
		if err != nil {
			t.Errorf("expected gzip body: %v", err)
			res.WriteHeader(http.StatusOK)
			return
		}
		var body logEventInput
		_ = json.NewDecoder(gz).Decode(&body)
		mu.Lock()
		events = append(events, body)
		mu.Unlock()
		res.WriteHeader(http.StatusOK)
	}))
	defer testServer.Close()

	if err := InitializeWithOptions("secret", &Options{API: testServer.URL, RulesetsSyncInterval: time.Hour, LoggerFlushInterval: time.Hour}); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	instanceMu.RLock()
	d := instance
	instanceMu.RUnlock()
	d.store.setConfigSpecs(downloadConfigSpecResponse{
		HasUpdates:   true,
		Time:         1,
		FeatureGates: []configSpec{specWithRule("always_on_gate", alwaysPassRule("r1"))},
	})

	ManuallyLogGateExposure(User{UserID: "u1"}, "always_on_gate")
	d.logger.flush()

	mu.Lock()
	defer mu.Unlock()
	total := 0
	for _, e := range events {
		total += len(e.Events)
	}
	if total != 1 {
		t.Fatalf("expected facade ManuallyLogGateExposure to enqueue exactly one event, got %d", total)
	}
}
