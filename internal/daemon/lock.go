package daemon

import "context"

// domainLock is a mutex whose acquisition can be abandoned.
type domainLock chan struct{}

func newDomainLock() domainLock {
	return make(domainLock, 1)
}

func (l domainLock) acquire(ctx context.Context) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	select {
	case l <- struct{}{}:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

func (l domainLock) release() {
	<-l
}
