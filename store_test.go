package flagcore

import (
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"
)

func TestSetConfigSpecsRejectsOlderTime(t *testing.T) {
	st := newStore(nil, nil, 0, defaultOutputLogger)
	if !st.setConfigSpecs(downloadConfigSpecResponse{HasUpdates: true, Time: 10}) {
		t.Fatal("expected first snapshot to apply")
	}
	if st.setConfigSpecs(downloadConfigSpecResponse{HasUpdates: true, Time: 5}) {
		t.Fatal("expected an older snapshot to be rejected")
	}
	if st.currentSyncTime() != 10 {
		t.Errorf("expected last_sync_time to remain 10, got %d", st.currentSyncTime())
	}
}

func TestSetConfigSpecsBuildsExperimentToLayerMap(t *testing.T) {
	st := newStore(nil, nil, 0, defaultOutputLogger)
	st.setConfigSpecs(downloadConfigSpecResponse{
		HasUpdates: true,
		Time:       1,
		Layers:     map[string][]string{"my_layer": {"exp_a", "exp_b"}},
	})
	layer, ok := st.getExperimentLayer("exp_a")
	if !ok || layer != "my_layer" {
		t.Errorf("expected exp_a to map to my_layer, got %q, %v", layer, ok)
	}
}

func TestStoreReadsReflectAtomicSnapshotSwap(t *testing.T) {
	st := newStore(nil, nil, 0, defaultOutputLogger)
	st.setConfigSpecs(downloadConfigSpecResponse{HasUpdates: true, Time: 1, FeatureGates: []configSpec{{Name: "g1"}}})
	if _, ok := st.getGate("g1"); !ok {
		t.Fatal("expected g1 to be present after swap")
	}
	st.setConfigSpecs(downloadConfigSpecResponse{HasUpdates: true, Time: 2, FeatureGates: []configSpec{{Name: "g2"}}})
	if _, ok := st.getGate("g1"); ok {
		t.Fatal("expected g1 to be gone after full snapshot swap")
	}
	if _, ok := st.getGate("g2"); !ok {
		t.Fatal("expected g2 to be present after swap")
	}
}

func TestFetchFromDatastoreUsedWhenAdvertised(t *testing.T) {
	ds := NewInMemoryDatastore(true)
	ds.Initialize()
	specs := downloadConfigSpecResponse{HasUpdates: true, Time: 7, FeatureGates: []configSpec{{Name: "from_datastore"}}}
	raw, _ := json.Marshal(specs)
	ds.Set(configSpecsDatastoreKey, string(raw))

	st := newStore(nil, ds, time.Hour, defaultOutputLogger)
	st.initialize()
	defer st.shutdownStore()

	if _, ok := st.getGate("from_datastore"); !ok {
		t.Fatal("expected gate loaded from datastore to be present")
	}
	source, _, _ := st.sourceInfo()
	if source != SourceDataAdapter {
		t.Errorf("expected source DataAdapter, got %v", source)
	}
}

func TestFetchFromNetworkFallbackWhenNoDatastore(t *testing.T) {
	testServer := httptest.NewServer(http.HandlerFunc(func(res http.ResponseWriter, req *http.Request) {
		_ = json.NewEncoder(res).Encode(downloadConfigSpecResponse{
			HasUpdates:   true,
			Time:         3,
			FeatureGates: []configSpec{{Name: "from_network"}},
		})
	}))
	defer testServer.Close()

	tr := newTransport("secret", &Options{APIForDownloadConfigSpecs: testServer.URL}, defaultOutputLogger)
	tr.downloadSpecsBase = testServer.URL
	tr.usesCDNForDownload = true

	st := newStore(tr, nil, time.Hour, defaultOutputLogger)
	st.initialize()
	defer st.shutdownStore()

	if _, ok := st.getGate("from_network"); !ok {
		t.Fatal("expected gate loaded from network to be present")
	}
	source, _, initTime := st.sourceInfo()
	if source != SourceNetwork {
		t.Errorf("expected source Network, got %v", source)
	}
	if initTime != 3 {
		t.Errorf("expected initial_sync_time to be recorded, got %d", initTime)
	}
}

func TestShutdownStoreStopsPollLoop(t *testing.T) {
	tr := newTransport("secret", &Options{LocalMode: true}, defaultOutputLogger)
	st := newStore(tr, nil, 10*time.Millisecond, defaultOutputLogger)
	st.startPolling()
	if err := st.shutdownStore(); err != nil {
		t.Fatalf("expected clean shutdown, got %v", err)
	}
}
