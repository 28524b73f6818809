package processor

import "sync"

var (
	registryLock         sync.Mutex
	registeredProcessors []Processor
)

// RegisterProcessor registers the given processor. Tools built on this package
// register their processors in init functions and then run them all with
// ProcessAll.
func RegisterProcessor(p Processor) {
	registryLock.Lock()
	defer registryLock.Unlock()
	registeredProcessors = append(registeredProcessors, p)
}

// AllRegisteredProcessors returns the list of all registered processors, in
// registration order.
func AllRegisteredProcessors() []Processor {
	registryLock.Lock()
	defer registryLock.Unlock()
	procs := make([]Processor, len(registeredProcessors))
	copy(procs, registeredProcessors)
	return procs
}
