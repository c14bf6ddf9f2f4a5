// Package idx generates lexicographically sortable identifiers for ledger
// entries.
package idx

import (
	"crypto/rand"
	"errors"
	"strings"
	"sync"
	"time"

	"github.com/oklog/ulid/v2"
)

// ErrInvalid reports a malformed identifier.
var ErrInvalid = errors.New("idx: invalid ulid")

var (
	globalOnce sync.Once
	global     *generator
)

// generator hands out ULIDs from a monotonic source, so identifiers minted
// within the same millisecond still sort in creation order.
type generator struct {
	mu      sync.Mutex
	entropy *ulid.MonotonicEntropy
}

func (g *generator) newAt(t time.Time) string {
	g.mu.Lock()
	defer g.mu.Unlock()

	return ulid.MustNew(ulid.Timestamp(t), g.entropy).String()
}

func initGlobal() {
	global = &generator{entropy: ulid.Monotonic(rand.Reader, 0)}
}

// New returns a new identifier stamped with the current UTC time.
func New() string {
	return NewAt(time.Now().UTC())
}

// NewAt returns a new identifier stamped with t.
func NewAt(t time.Time) string {
	globalOnce.Do(initGlobal)
	return global.newAt(t)
}

// Parse validates s and returns it in canonical form.
func Parse(s string) (string, error) {
	s = strings.TrimSpace(s)
	if s == "" {
		return "", ErrInvalid
	}

	u, err := ulid.ParseStrict(s)
	if err != nil {
		return "", ErrInvalid
	}

	return u.String(), nil
}

// Time extracts the embedded timestamp, or the zero time for invalid input.
func Time(id string) time.Time {
	u, err := ulid.ParseStrict(id)
	if err != nil {
		return time.Time{}
	}
	return ulid.Time(u.Time()).UTC()
}
