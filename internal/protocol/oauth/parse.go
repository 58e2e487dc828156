package oauth

import (
	"fmt"
	"net/url"
	"strings"
)

// ParseAuthorization splits an OAuth Authorization header back into its
// realm and percent-decoded parameters. The venue-side verifier (and the
// mock venue in tests) rebuilds the base string from these.
func ParseAuthorization(header string) (realm string, params Params, err error) {
	const prefix = "OAuth "
	if !strings.HasPrefix(header, prefix) {
		return "", nil, fmt.Errorf("not an OAuth header: %q", header)
	}
	params = make(Params)
	for _, part := range strings.Split(header[len(prefix):], ", ") {
		k, quoted, ok := strings.Cut(part, "=")
		if !ok || len(quoted) < 2 || quoted[0] != '"' || quoted[len(quoted)-1] != '"' {
			return "", nil, fmt.Errorf("malformed OAuth parameter %q", part)
		}
		v, err := url.QueryUnescape(quoted[1 : len(quoted)-1])
		if err != nil {
			return "", nil, fmt.Errorf("decoding OAuth parameter %q: %w", part, err)
		}
		if k == "realm" {
			realm = v
			continue
		}
		params[k] = v
	}
	return realm, params, nil
}
