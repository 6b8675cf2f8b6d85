package shared

import (
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
)

// DocumentNumber builds a unique document number such as PO-20260829-1A2B3C4D.
// Callers may still supply their own numbers; this is the fallback.
func DocumentNumber(prefix string, now time.Time) string {
	suffix := strings.ToUpper(strings.ReplaceAll(uuid.NewString(), "-", ""))[:8]
	return fmt.Sprintf("%s-%s-%s", prefix, now.Format("20060102"), suffix)
}
