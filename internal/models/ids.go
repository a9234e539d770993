package models

import (
	"strings"
	"time"

	"github.com/google/uuid"
)

// NewID returns "<prefix>_<YYYYmmdd_HHMMSS>_<8 hex chars>". The random
// suffix keeps ids unique when two triggers land in the same second.
func NewID(prefix string, now time.Time) string {
	suffix := strings.ReplaceAll(uuid.NewString(), "-", "")[:8]
	return prefix + "_" + now.UTC().Format("20060102_150405") + "_" + suffix
}
