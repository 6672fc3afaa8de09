package state

import (
	"fmt"
	"os"

	"github.com/gofrs/flock"
)

// Lock takes the member's advisory lock. Two processes driving the same member is a
// misuse; the second one gets ErrMemberBusy instead of interleaving writes.
func (s *Store) Lock(member int) (func(), error) {
	if err := os.MkdirAll(s.layout.MemberDir(member), 0o755); err != nil {
		return nil, fmt.Errorf("create member dir: %w", err)
	}
	fl := flock.New(s.layout.LockPath(member))
	ok, err := fl.TryLock()
	if err != nil {
		return nil, fmt.Errorf("lock member %d: %w", member, err)
	}
	if !ok {
		return nil, fmt.Errorf("%w: member %d", ErrMemberBusy, member)
	}
	return func() {
		if err := fl.Unlock(); err != nil {
			s.logger.Warn("unlock member", "member", member, "err", err)
		}
	}, nil
}
