package shared

import (
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestQueryInt(t *testing.T) {
	tests := []struct {
		name    string
		url     string
		want    int
		wantErr bool
	}{
		{name: "missing uses default", url: "/tasks", want: 10},
		{name: "empty uses default", url: "/tasks?limit=", want: 10},
		{name: "value", url: "/tasks?limit=25", want: 25},
		{name: "whitespace trimmed", url: "/tasks?limit=%2025%20", want: 25},
		{name: "negative passes through", url: "/tasks?limit=-3", want: -3},
		{name: "not a number", url: "/tasks?limit=abc", wantErr: true},
		{name: "float", url: "/tasks?limit=2.5", wantErr: true},
	}

	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			req := httptest.NewRequest("GET", tc.url, nil)
			got, err := QueryInt(req, "limit", 10)
			if tc.wantErr {
				require.Error(t, err)
				assert.Contains(t, err.Error(), "limit")
				return
			}
			require.NoError(t, err)
			assert.Equal(t, tc.want, got)
		})
	}
}

func TestQueryString(t *testing.T) {
	req := httptest.NewRequest("GET", "/tasks?status=%20Failed%20", nil)
	assert.Equal(t, "Failed", QueryString(req, "status"))
	assert.Empty(t, QueryString(req, "missing"))
}
