package types

import (
	"crypto/rand"
	"strings"
	"time"

	"github.com/oklog/ulid/v2"
)

const (
	UUID_PREFIX_REQUEST = "req"
	UUID_PREFIX_EVENT   = "event"
	UUID_PREFIX_PARTIAL = "partial"
)

// GenerateUUID returns a lowercase ULID
func GenerateUUID() string {
	return strings.ToLower(ulid.MustNew(ulid.Timestamp(time.Now()), rand.Reader).String())
}

// GenerateUUIDWithPrefix returns a ULID prefixed with the given entity prefix, e.g. partial_01h...
func GenerateUUIDWithPrefix(prefix string) string {
	if prefix == "" {
		return GenerateUUID()
	}
	return prefix + "_" + GenerateUUID()
}
