package sources

import (
	"fmt"
	"strings"

	"github.com/cespare/xxhash/v2"
)

// Fingerprint derives the stable dedup key for a content origin. The same
// origin always maps to the same fingerprint, so re-discovering an item on a
// later pass collapses onto the existing job.
func Fingerprint(origin string) string {
	return fmt.Sprintf("%016x", xxhash.Sum64String(strings.TrimSpace(origin)))
}
