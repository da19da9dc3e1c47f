package audit

import (
	"fmt"

	"github.com/mssola/useragent"
)

// SummarizeUA reduces a raw User-Agent header to a short human-readable
// form ("Chrome 120 on Linux") for the exported timeline. The raw header is
// still stored verbatim on the event row.
func SummarizeUA(raw string) string {
	if raw == "" {
		return ""
	}
	ua := useragent.New(raw)
	name, version := ua.Browser()
	if name == "" {
		return raw
	}
	if os := ua.OS(); os != "" {
		return fmt.Sprintf("%s %s on %s", name, version, os)
	}
	return fmt.Sprintf("%s %s", name, version)
}
