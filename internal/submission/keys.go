package submission

import (
	"fmt"
	"path"
	"strings"
	"sync/atomic"
	"time"

	"github.com/google/uuid"
)

const maxKeyNameLength = 100

// KeyGenerator produces blob keys of the form
// <unix-millis>_<instance>-<seq>_<name>. The per-process instance id and the
// counter keep keys distinct within the same millisecond and across
// processes.
type KeyGenerator struct {
	instance string
	seq      atomic.Uint64
	now      func() time.Time
}

// NewKeyGenerator creates a key generator with a random instance id
func NewKeyGenerator() *KeyGenerator {
	return &KeyGenerator{
		instance: strings.ReplaceAll(uuid.NewString(), "-", "")[:8],
		now:      time.Now,
	}
}

// Next returns a fresh key for filename
func (g *KeyGenerator) Next(filename string) string {
	seq := g.seq.Add(1)
	return fmt.Sprintf("%d_%s-%d_%s", g.now().UnixMilli(), g.instance, seq, sanitizeName(filename))
}

func sanitizeName(filename string) string {
	name := path.Base(strings.ReplaceAll(filename, `\`, "/"))

	var b strings.Builder
	for _, r := range name {
		switch {
		case r >= 'a' && r <= 'z', r >= 'A' && r <= 'Z', r >= '0' && r <= '9',
			r == '.', r == '-', r == '_':
			b.WriteRune(r)
		default:
			b.WriteByte('_')
		}
	}

	out := strings.Trim(b.String(), ".")
	if out == "" {
		return "media"
	}
	if len(out) > maxKeyNameLength {
		out = out[len(out)-maxKeyNameLength:]
	}
	return out
}
