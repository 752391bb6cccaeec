package shopify

import (
	"fmt"
	"regexp"
	"strconv"

	pkgerrors "github.com/feedrail/shopfeed/pkg/errors"
)

var gidRegex = regexp.MustCompile(`^gid://shopify/(\w+)/(\d+)$`)

// GID is a parsed Shopify global id of the form gid://shopify/<Type>/<id>.
type GID struct {
	Type string
	ID   int64
}

// ParseGID splits a gid://shopify/<Type>/<id> string into its components.
func ParseGID(value string) (GID, error) {
	matches := gidRegex.FindStringSubmatch(value)
	if len(matches) != 3 {
		return GID{}, pkgerrors.New(pkgerrors.CodeParse, fmt.Sprintf("malformed gid %q", value))
	}
	id, err := strconv.ParseInt(matches[2], 10, 64)
	if err != nil || id <= 0 {
		return GID{}, pkgerrors.New(pkgerrors.CodeParse, fmt.Sprintf("gid id out of range in %q", value))
	}
	return GID{Type: matches[1], ID: id}, nil
}

// String re-assembles the canonical gid form.
func (g GID) String() string {
	return fmt.Sprintf("gid://shopify/%s/%d", g.Type, g.ID)
}

// GIDType returns only the type component, or "" when the value is not a gid.
func GIDType(value string) string {
	matches := gidRegex.FindStringSubmatch(value)
	if len(matches) != 3 {
		return ""
	}
	return matches[1]
}

// GIDID returns only the numeric component, or 0 when the value is not a gid.
func GIDID(value string) int64 {
	parsed, err := ParseGID(value)
	if err != nil {
		return 0
	}
	return parsed.ID
}
