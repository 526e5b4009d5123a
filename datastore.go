package flagcore

// configSpecsDatastoreKey is the key under which the serialized rule set is
// stored/retrieved.
const configSpecsDatastoreKey = "statsig.cache"

// Datastore is a pluggable alternative source/sink for rule-set fetch and
// persistence.
type Datastore interface {
	Initialize()
	Get(key string) (string, bool)
	Set(key string, value string)
	Shutdown()
	// ShouldBeUsedForQueryingUpdates reports whether the sync loop should
	// poll this datastore instead of the network for the given key.
	ShouldBeUsedForQueryingUpdates(key string) bool
}

// InMemoryDatastore is a simple map-backed Datastore, useful for tests and
// as a reference embedder implementation.
type InMemoryDatastore struct {
	QueryUpdates bool
	store        map[string]string
}

// NewInMemoryDatastore returns a ready-to-use InMemoryDatastore.
func NewInMemoryDatastore(queryUpdates bool) *InMemoryDatastore {
	return &InMemoryDatastore{QueryUpdates: queryUpdates, store: make(map[string]string)}
}

func (d *InMemoryDatastore) Initialize() {
	if d.store == nil {
		d.store = make(map[string]string)
	}
}

func (d *InMemoryDatastore) Get(key string) (string, bool) {
	v, ok := d.store[key]
	return v, ok
}

func (d *InMemoryDatastore) Set(key string, value string) {
	d.store[key] = value
}

func (d *InMemoryDatastore) Shutdown() {}

func (d *InMemoryDatastore) ShouldBeUsedForQueryingUpdates(key string) bool {
	return d.QueryUpdates
}
