package ingest

import "sync"

// partitionLocks hands out one mutex per partition key and drops it once unused
type partitionLocks struct {
	mu    sync.Mutex
	locks map[string]*partitionLock
}

type partitionLock struct {
	sync.Mutex
	refs int
}

func newPartitionLocks() *partitionLocks {
	return &partitionLocks{locks: make(map[string]*partitionLock)}
}

// lock blocks until the partition is free and returns its unlock func
func (p *partitionLocks) lock(key string) func() {
	p.mu.Lock()
	l, ok := p.locks[key]
	if !ok {
		l = &partitionLock{}
		p.locks[key] = l
	}
	l.refs++
	p.mu.Unlock()

	l.Lock()

	return func() {
		l.Unlock()

		p.mu.Lock()
		l.refs--
		if l.refs == 0 {
			delete(p.locks, key)
		}
		p.mu.Unlock()
	}
}

func (p *partitionLocks) size() int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return len(p.locks)
}
