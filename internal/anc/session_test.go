package anc

import (
	"strings"
	"testing"

	"github.com/stretchr/testify/require"
)

func TestExtractCSRFToken(t *testing.T) {
	tests := []struct {
		name string
		page string
		want string
	}{
		{
			name: "token among several scripts",
			page: `<html><head>
				<script>var config = {};</script>
				<script>window.__csrfToken = "a1b2c3";window.__other = 1;</script>
			</head></html>`,
			want: "a1b2c3",
		},
		{
			name: "page without inline config",
			page: `<html><head><script>var config = {};</script></head></html>`,
			want: "",
		},
		{
			name: "empty page",
			page: "",
			want: "",
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := extractCSRFToken(strings.NewReader(tt.page))
			require.NoError(t, err)
			require.Equal(t, tt.want, got)
		})
	}
}
