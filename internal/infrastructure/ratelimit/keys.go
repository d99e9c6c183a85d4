package ratelimit

import (
	"strings"

	"github.com/google/uuid"
)

const principalTag = "principal:"

// KeyBuilder derives the storage key of a window for a subject:
// prefix + window key + mode + ["principal:" + id].
type KeyBuilder struct {
	prefix       string
	perPrincipal bool
}

func NewKeyBuilder(prefix string, perPrincipal bool) KeyBuilder {
	return KeyBuilder{prefix: prefix, perPrincipal: perPrincipal}
}

// Windows pairs keys, durations and caps positionally. Configured keys get
// the prefix; windows without a key get a synthesized one that is unique to
// this process.
func (b KeyBuilder) Windows(keys []string, durations []int64, unit Unit, caps []int32) WindowSet {
	ws := make(WindowSet, len(durations))
	for i := range durations {
		key := ""
		if i < len(keys) && keys[i] != "" {
			key = b.prefix + keys[i]
		} else {
			key = b.synthesize()
		}
		ws[i] = Window{Key: key, Duration: unit.Duration(durations[i]), Cap: caps[i]}
	}
	return ws
}

func (b KeyBuilder) synthesize() string {
	return b.prefix + "flowlimit:" + strings.ReplaceAll(uuid.NewString(), "-", "") + ":"
}

// Key returns the full key of w for s. An empty principal falls back to the
// global key.
func (b KeyBuilder) Key(w Window, s Subject) string {
	var sb strings.Builder
	sb.Grow(len(w.Key) + len(s.Mode) + len(principalTag) + len(s.Principal))
	sb.WriteString(w.Key)
	sb.WriteString(s.Mode)
	if b.perPrincipal && s.Principal != "" {
		sb.WriteString(principalTag)
		sb.WriteString(s.Principal)
	}
	return sb.String()
}
