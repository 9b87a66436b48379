package auth

import (
	"fmt"
	"sort"
	"strings"
)

// BuildBearerChallenge builds an RFC 6750 Bearer challenge header value.
// Format:
//
//	Bearer realm="<realm>", resource_metadata="<url>", error="...", error_description="..."
//
// Empty realm and resourceMetadata are omitted. Known params come first in a
// fixed order; any others follow alphabetically.
func BuildBearerChallenge(realm string, resourceMetadata string, params map[string]string) string {
	pieces := make([]string, 0, 2+len(params))
	esc := strings.NewReplacer(`\`, `\\`, `"`, `\"`).Replace
	if realm != "" {
		pieces = append(pieces, fmt.Sprintf(`realm="%s"`, esc(realm)))
	}
	if resourceMetadata != "" {
		pieces = append(pieces, fmt.Sprintf(`resource_metadata="%s"`, esc(resourceMetadata)))
	}
	known := []string{"error", "error_description", "scope"}
	for _, k := range known {
		if v, ok := params[k]; ok {
			pieces = append(pieces, fmt.Sprintf(`%s="%s"`, k, esc(v)))
		}
	}
	rest := make([]string, 0, len(params))
	for k := range params {
		if k == "error" || k == "error_description" || k == "scope" {
			continue
		}
		rest = append(rest, k)
	}
	sort.Strings(rest)
	for _, k := range rest {
		pieces = append(pieces, fmt.Sprintf(`%s="%s"`, k, esc(params[k])))
	}
	if len(pieces) == 0 {
		return "Bearer"
	}
	return "Bearer " + strings.Join(pieces, ", ")
}
