package fulfillment

import (
	"strconv"
	"strings"
	"sync/atomic"

	"github.com/google/uuid"
)

// MaxIdentifierLength is the longest physical table name generated. It matches the
// PostgreSQL limit, the strictest of the supported databases.
const MaxIdentifierLength = 63

// NameGenerator derives physical table names.
//
// Names have the form <prefix><logical>_<runID> for immutable tables and
// <prefix><logical>_<runID>_<seq> for mutable ones. The run id is unique per
// generator so concurrent or consecutive runs against the same database never
// collide, and seq is unique within the run.
type NameGenerator struct {
	prefix string
	runID  string
	seq    atomic.Int64
}

// NewNameGenerator returns a generator with a random run id.
func NewNameGenerator(prefix string) *NameGenerator {
	return NewNameGeneratorWithRunID(prefix, newRunID())
}

// NewNameGeneratorWithRunID returns a generator using runID verbatim (after sanitizing).
func NewNameGeneratorWithRunID(prefix, runID string) *NameGenerator {
	return &NameGenerator{prefix: prefix, runID: sanitizeIdentifier(runID)}
}

func newRunID() string {
	return strings.ReplaceAll(uuid.NewString(), "-", "")[:8]
}

func (g *NameGenerator) RunID() string { return g.runID }

// Immutable returns the physical name of a suite-wide table.
func (g *NameGenerator) Immutable(logical string) string {
	return g.build(logical, "_"+g.runID)
}

// Mutable returns a new physical name on every call.
func (g *NameGenerator) Mutable(logical string) string {
	seq := g.seq.Add(1)
	return g.build(logical, "_"+g.runID+"_"+strconv.FormatInt(seq, 10))
}

func (g *NameGenerator) build(logical, suffix string) string {
	base := sanitizeIdentifier(g.prefix + logical)
	if base == "" {
		base = "t"
	}

	if room := MaxIdentifierLength - len(suffix); len(base) > room {
		base = base[:max(room, 1)]
	}

	return base + suffix
}

// sanitizeIdentifier lower-cases s and replaces every rune outside [a-z0-9_] with '_'.
func sanitizeIdentifier(s string) string {
	var b strings.Builder

	b.Grow(len(s))

	for _, r := range strings.ToLower(s) {
		switch {
		case r >= 'a' && r <= 'z', r >= '0' && r <= '9', r == '_':
			b.WriteRune(r)
		default:
			b.WriteByte('_')
		}
	}

	return b.String()
}
