package flagcore

import (
	"encoding/json"
	"net/http/httptest"
	"net/http"
	"sync/atomic"
	"testing"
	"time"
)

func newLocalDriver(t *testing.T) *Driver {
	t.Helper()
	d := newDriver(&Options{LocalMode: true, RulesetsSyncInterval: time.Hour, LoggerFlushInterval: time.Hour}, "secret-test")
	configPassRule := alwaysPassRule("r1")
	configPassRule.ReturnValue = json.RawMessage(`{"x":1}`)
	layerPassRule := alwaysPassRule("r1")
	layerPassRule.ReturnValue = json.RawMessage(`{"y":2}`)
	d.store.setConfigSpecs(downloadConfigSpecResponse{
		HasUpdates: true,
		Time:       1,
		FeatureGates: []configSpec{
			specWithRule("enabled_gate", alwaysPassRule("r1")),
		},
		DynamicConfigs: []configSpec{
			{Name: "my_config", Type: "dynamic_config", Enabled: true, DefaultValue: json.RawMessage(`{"x":1}`), Rules: []configRule{configPassRule}},
		},
		LayerConfigs: []configSpec{
			{Name: "my_layer", Type: "layer_config", Enabled: true, DefaultValue: json.RawMessage(`{"y":2}`), Rules: []configRule{layerPassRule}},
		},
	})
	t.Cleanup(func() { d.Shutdown() })
	return d
}

func TestDriverCheckGate(t *testing.T) {
	d := newLocalDriver(t)
	if !d.CheckGate(User{UserID: "u1"}, "enabled_gate") {
		t.Fatal("expected enabled_gate to pass")
	}
	if d.CheckGate(User{UserID: "u1"}, "missing_gate") {
		t.Fatal("expected missing gate to resolve false")
	}
}

func TestDriverCheckGateEnqueuesExposure(t *testing.T) {
	var received int64
	testServer := httptest.NewServer(http.HandlerFunc(func(res http.ResponseWriter, req *http.Request) {
		atomic.AddInt64(&received, 1)
		res.WriteHeader(http.StatusOK)
	}))
	defer testServer.Close()

	d := newDriver(&Options{API: testServer.URL, RulesetsSyncInterval: time.Hour, LoggerFlushInterval: time.Hour}, "secret")
	d.store.setConfigSpecs(downloadConfigSpecResponse{HasUpdates: true, Time: 1, FeatureGates: []configSpec{specWithRule("g", alwaysPassRule("r1"))}})
	defer d.Shutdown()

	d.CheckGate(User{UserID: "u1"}, "g")
	d.logger.flush()

	if atomic.LoadInt64(&received) == 0 {
		t.Fatal("expected an exposure event to have been sent")
	}
}

func TestDriverGetConfigReturnsValue(t *testing.T) {
	d := newLocalDriver(t)
	result := d.GetConfig(User{UserID: "u1"}, "my_config")
	if result.Config.GetNumber("x", -1) != 1 {
		t.Errorf("expected config value x=1, got %v", result.Config.GetNumber("x", -1))
	}
}

func TestDriverGetLayerLazilyLogsParameterExposure(t *testing.T) {
	d := newLocalDriver(t)
	layer := d.GetLayer(User{UserID: "u1"}, "my_layer")
	d.logger.mu.Lock()
	queuedBeforeAccess := len(d.logger.queue)
	d.logger.mu.Unlock()
	if queuedBeforeAccess != 0 {
		t.Fatalf("expected GetLayer itself to log no exposure, got %d queued", queuedBeforeAccess)
	}
	if got := layer.GetNumber("y", -1); got != 2 {
		t.Errorf("expected layer param y=2, got %v", got)
	}
	d.logger.mu.Lock()
	defer d.logger.mu.Unlock()
	if len(d.logger.queue) != 1 {
		t.Errorf("expected one layer exposure after reading a parameter, got %d", len(d.logger.queue))
	}
}

func TestDriverNormalizeUserMergesEnvironment(t *testing.T) {
	d := newLocalDriver(t)
	d.options.Environment = Environment{Tier: "staging", Params: map[string]string{"region": "us"}}
	user := d.normalizeUser(User{UserID: "u1"})
	if user.StatsigEnvironment["tier"] != "staging" || user.StatsigEnvironment["region"] != "us" {
		t.Errorf("expected environment to be merged into user, got %v", user.StatsigEnvironment)
	}
}

func TestDriverOverrideGate(t *testing.T) {
	d := newLocalDriver(t)
	d.OverrideGate("enabled_gate", false)
	if d.CheckGate(User{UserID: "u1"}, "enabled_gate") {
		t.Fatal("expected override to force gate false")
	}
}

func TestDriverLogEventStampsTime(t *testing.T) {
	d := newLocalDriver(t)
	d.LogEvent(Event{EventName: "custom", User: User{UserID: "u1"}})
	d.logger.mu.Lock()
	defer d.logger.mu.Unlock()
	if len(d.logger.queue) != 1 {
		t.Fatalf("expected one queued event, got %d", len(d.logger.queue))
	}
	event, ok := d.logger.queue[0].(Event)
	if !ok {
		t.Fatalf("expected queued item to be an Event, got %T", d.logger.queue[0])
	}
	if event.Time == 0 {
		t.Error("expected LogEvent to stamp a nonzero time")
	}
}
