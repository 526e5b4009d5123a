package flagcore

import (
	"encoding/json"
	"fmt"
	"sync"
	"time"
)

// store holds the active rule-set snapshot: readers take the RLock, the
// sync loop takes the Lock once per successful fetch and swaps all maps
// together so a reader never observes a partial merge.
type store struct {
	mu sync.RWMutex

	featureGates      map[string]configSpec
	dynamicConfigs    map[string]configSpec
	layerConfigs      map[string]configSpec
	experimentToLayer map[string]string

	lastSyncTime    int64
	initialSyncTime int64
	source          EvaluationSource

	shutdown bool
	stopCh   chan struct{}
	wg       sync.WaitGroup

	transport    *transport
	datastore    Datastore
	syncInterval time.Duration
	outputLogger *OutputLogger
}

func newStore(transport *transport, datastore Datastore, syncInterval time.Duration, outputLogger *OutputLogger) *store {
	return &store{
		featureGates:      make(map[string]configSpec),
		dynamicConfigs:    make(map[string]configSpec),
		layerConfigs:      make(map[string]configSpec),
		experimentToLayer: make(map[string]string),
		source:            SourceUninitialized,
		stopCh:            make(chan struct{}),
		transport:         transport,
		datastore:         datastore,
		syncInterval:      syncInterval,
		outputLogger:      outputLogger,
	}
}

// initialize performs the first synchronous fetch and then
// starts the background sync loop.
func (s *store) initialize() {
	if s.datastore != nil {
		s.datastore.Initialize()
		if s.fetchFromDatastore() {
			s.startPolling()
			return
		}
	}
	s.fetchFromNetwork()
	s.mu.Lock()
	s.initialSyncTime = s.lastSyncTime
	s.mu.Unlock()
	s.startPolling()
}

func (s *store) startPolling() {
	s.wg.Add(1)
	go s.pollLoop()
}

func (s *store) pollLoop() {
	defer s.wg.Done()
	for {
		select {
		case <-time.After(s.syncInterval):
		case <-s.stopCh:
			return
		}
		s.mu.RLock()
		stopped := s.shutdown
		s.mu.RUnlock()
		if stopped {
			return
		}
		if s.datastore != nil && s.datastore.ShouldBeUsedForQueryingUpdates(configSpecsDatastoreKey) {
			s.fetchFromDatastore()
		} else {
			s.fetchFromNetwork()
		}
	}
}

func (s *store) fetchFromDatastore() bool {
	raw, ok := s.datastore.Get(configSpecsDatastoreKey)
	if !ok || raw == "" {
		return false
	}
	var specs downloadConfigSpecResponse
	if err := json.Unmarshal([]byte(raw), &specs); err != nil {
		s.outputLogger.Error("failed to parse datastore rule set", err)
		return false
	}
	if !s.setConfigSpecs(specs) {
		return false
	}
	s.mu.Lock()
	s.source = SourceDataAdapter
	s.mu.Unlock()
	return true
}

func (s *store) fetchFromNetwork() {
	since := s.currentSyncTime()
	result, err := s.transport.downloadConfigSpecs(since)
	if err != nil {
		s.outputLogger.Error("rule set sync failed", err)
		return
	}
	if result == nil || !result.HasUpdates {
		return
	}
	if !s.setConfigSpecs(result.Specs) {
		return
	}
	s.mu.Lock()
	s.source = SourceNetwork
	s.mu.Unlock()
	s.writeBackToDatastore(result.Specs)
}

func (s *store) writeBackToDatastore(specs downloadConfigSpecResponse) {
	if s.datastore == nil {
		return
	}
	raw, err := json.Marshal(specs)
	if err != nil {
		return
	}
	s.datastore.Set(configSpecsDatastoreKey, string(raw))
}

// setConfigSpecs validates monotonicity and atomically swaps the snapshot.
func (s *store) setConfigSpecs(specs downloadConfigSpecResponse) bool {
	newTime := int64(specs.Time)
	s.mu.RLock()
	current := s.lastSyncTime
	s.mu.RUnlock()
	if newTime < current {
		return false
	}

	gates := make(map[string]configSpec, len(specs.FeatureGates))
	for _, g := range specs.FeatureGates {
		gates[g.Name] = g
	}
	configs := make(map[string]configSpec, len(specs.DynamicConfigs))
	for _, c := range specs.DynamicConfigs {
		configs[c.Name] = c
	}
	layers := make(map[string]configSpec, len(specs.LayerConfigs))
	for _, l := range specs.LayerConfigs {
		layers[l.Name] = l
	}
	experimentToLayer := make(map[string]string, len(specs.Layers))
	for layerName, experiments := range specs.Layers {
		for _, exp := range experiments {
			experimentToLayer[exp] = layerName
		}
	}

	s.mu.Lock()
	s.featureGates = gates
	s.dynamicConfigs = configs
	s.layerConfigs = layers
	s.experimentToLayer = experimentToLayer
	s.lastSyncTime = newTime
	s.mu.Unlock()
	return true
}

func (s *store) currentSyncTime() int64 {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.lastSyncTime
}

func (s *store) sourceInfo() (EvaluationSource, int64, int64) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.source, s.lastSyncTime, s.initialSyncTime
}

func (s *store) getGate(name string) (configSpec, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	v, ok := s.featureGates[name]
	return v, ok
}

func (s *store) getDynamicConfig(name string) (configSpec, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	v, ok := s.dynamicConfigs[name]
	return v, ok
}

func (s *store) getLayerConfig(name string) (configSpec, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	v, ok := s.layerConfigs[name]
	return v, ok
}

func (s *store) getExperimentLayer(experimentName string) (string, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	v, ok := s.experimentToLayer[experimentName]
	return v, ok
}

func (s *store) allGates() []configSpec   { return s.snapshotValues(s.featureGates) }
func (s *store) allConfigs() []configSpec { return s.snapshotValues(s.dynamicConfigs) }
func (s *store) allLayers() []configSpec  { return s.snapshotValues(s.layerConfigs) }

func (s *store) snapshotValues(m map[string]configSpec) []configSpec {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make([]configSpec, 0, len(m))
	for _, v := range m {
		out = append(out, v)
	}
	return out
}

// shutdownStore drains the poll loop with a bounded wait.
func (s *store) shutdownStore() error {
	s.mu.Lock()
	if !s.shutdown {
		close(s.stopCh)
	}
	s.shutdown = true
	s.mu.Unlock()

	if s.datastore != nil {
		s.datastore.Shutdown()
	}

	done := make(chan struct{})
	go func() {
		s.wg.Wait()
		close(done)
	}()
	select {
	case <-done:
		return nil
	case <-time.After(10 * time.Second):
		return fmt.Errorf("%w: rule set poll loop did not stop in time", ErrShutdownFailure)
	}
}
