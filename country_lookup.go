package flagcore

import (
	"sync"

	"github.com/statsig-io/ip3country-go/pkg/countrylookup"
)

// countryLookup wraps the embedded IP->country table.
// Loading the binary table takes a few hundred milliseconds, so it happens
// on a background goroutine; EnsureLoaded/LazyLoad decide whether callers
// wait for it.
type countryLookup struct {
	lookup  *countrylookup.CountryLookup
	wg      sync.WaitGroup
	options IPCountryOptions
	mu      sync.RWMutex
}

func newCountryLookup(options IPCountryOptions) *countryLookup {
	c := &countryLookup{options: options}
	c.init()
	return c
}

func (c *countryLookup) isReady() bool {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.lookup != nil
}

func (c *countryLookup) init() {
	if c.options.Disabled {
		return
	}
	c.wg.Add(1)
	go func() {
		defer c.wg.Done()
		c.mu.Lock()
		c.lookup = countrylookup.New()
		c.mu.Unlock()
	}()
	if !c.options.LazyLoad {
		c.wg.Wait()
	}
}

// lookupIP resolves an IP address to an ISO country code, used by
// ip_based conditions on the "country" field when User.Country is absent.
func (c *countryLookup) lookupIP(ip string) (string, bool) {
	if c.options.Disabled || ip == "" {
		return "", false
	}
	if c.options.EnsureLoaded {
		c.wg.Wait()
	}
	if c.isReady() {
		return c.lookup.LookupIp(ip)
	}
	return "", false
}
