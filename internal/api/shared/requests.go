package shared

import (
	"fmt"
	"net/http"
	"strconv"
	"strings"
)

// QueryInt reads an integer query parameter. A missing or empty parameter
// yields def; anything that is not a base-10 integer is an error.
func QueryInt(r *http.Request, name string, def int) (int, error) {
	raw := strings.TrimSpace(r.URL.Query().Get(name))
	if raw == "" {
		return def, nil
	}
	n, err := strconv.Atoi(raw)
	if err != nil {
		return 0, fmt.Errorf("query parameter %q must be an integer", name)
	}
	return n, nil
}

// QueryString reads a trimmed query parameter.
func QueryString(r *http.Request, name string) string {
	return strings.TrimSpace(r.URL.Query().Get(name))
}
