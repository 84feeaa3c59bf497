// ABOUTME: Static plugin descriptor and namespaced-identifier validation
// ABOUTME: The descriptor is served verbatim by the getMetadata builtin

package plugin

import (
	"fmt"
	"regexp"
)

// nameRE is the namespaced identifier grammar: a lowercase
// alphanumeric-with-hyphen segment, a literal dot, then a second such
// segment (e.g. "acme.my-format"). Segments start and end on an
// alphanumeric, so hyphens are interior only.
var nameRE = regexp.MustCompile(`^[a-z0-9]([a-z0-9-]*[a-z0-9])?\.[a-z0-9]([a-z0-9-]*[a-z0-9])?$`)

// Descriptor is the static metadata object identifying a plugin instance.
// The substrate serializes it verbatim on getMetadata and performs no
// computation over its presentation fields; their schema is a contract
// between plugin author and host.
type Descriptor struct {
	Name        string         `json:"name"`
	DisplayName string         `json:"displayName,omitempty"`
	Version     string         `json:"version,omitempty"`
	ContentType string         `json:"contentType,omitempty"`
	Methods     []string       `json:"methods,omitempty"`
	Extra       map[string]any `json:"extra,omitempty"`
}

// validateName checks the descriptor's identifying name against the
// namespaced-identifier grammar. A violation is fatal at construction;
// the process must not start serving with a malformed name.
func validateName(name string) error {
	if !nameRE.MatchString(name) {
		return fmt.Errorf("invalid plugin name %q: expected a namespaced identifier of lowercase alphanumeric-with-hyphen segments joined by a dot, like %q", name, "acme.my-format")
	}
	return nil
}
