package settree

import (
	"fmt"
	"os"
	"regexp"
	"strings"
)

var (
	notAlnumOrUnderscore = regexp.MustCompile(`[^0-9a-zA-Z_]`)
	identSpecials        = regexp.MustCompile(`[-,.@/+]`)
)

// StrAsToken returns a canonical token form of a string: every character
// outside [0-9A-Za-z_] becomes an underscore.
func StrAsToken(val string) string {
	return notAlnumOrUnderscore.ReplaceAllString(val, "_")
}

// Str2Ident converts a string to a form usable as part of an identifier:
// lowercased, with separator characters replaced by underscores.
func Str2Ident(s string) string {
	return identSpecials.ReplaceAllString(strings.ToLower(s), "_")
}

// LoadVendorPrefixes reads a vendor prefix table: one "<prefix><TAB><name>"
// entry per line, with blank lines and '#' comments skipped.
func LoadVendorPrefixes(path string) (map[string]string, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("reading vendor prefixes: %w", err)
	}
	prefixes := map[string]string{}
	for i, line := range strings.Split(string(data), "\n") {
		line = strings.TrimSpace(line)
		if line == "" || strings.HasPrefix(line, "#") {
			continue
		}
		prefix, name, ok := strings.Cut(line, "\t")
		if !ok {
			return nil, fmt.Errorf("%s:%d: expected '<prefix><TAB><vendor>', got '%s'", path, i+1, line)
		}
		prefixes[prefix] = name
	}
	return prefixes, nil
}
