package usecase

import (
	"fmt"
	"path/filepath"
	"sync"

	"github.com/kirillkom/papertrellis/internal/core/domain"
)

// Claims tracks files that have a routing decision in flight. Keys are
// resolved absolute paths so two spellings of one file collide.
type Claims struct {
	mu   sync.Mutex
	held map[string]struct{}
}

func NewClaims() *Claims {
	return &Claims{held: make(map[string]struct{})}
}

// TryClaim takes the lease on path. The returned release func is idempotent.
func (c *Claims) TryClaim(path string) (func(), error) {
	key := claimKey(path)

	c.mu.Lock()
	defer c.mu.Unlock()
	if _, busy := c.held[key]; busy {
		return nil, domain.WrapError(domain.ErrClaimConflict, "claim file", fmt.Errorf("%s is already being routed", key))
	}
	c.held[key] = struct{}{}

	var once sync.Once
	return func() {
		once.Do(func() {
			c.mu.Lock()
			delete(c.held, key)
			c.mu.Unlock()
		})
	}, nil
}

// Held reports whether path is currently claimed.
func (c *Claims) Held(path string) bool {
	key := claimKey(path)
	c.mu.Lock()
	defer c.mu.Unlock()
	_, busy := c.held[key]
	return busy
}

func (c *Claims) Len() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return len(c.held)
}

func claimKey(path string) string {
	abs, err := filepath.Abs(path)
	if err != nil {
		return filepath.Clean(path)
	}
	if resolved, err := filepath.EvalSymlinks(abs); err == nil {
		return resolved
	}
	return abs
}
