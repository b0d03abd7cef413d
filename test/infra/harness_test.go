package infra

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestPickSource(t *testing.T) {
	tests := []struct {
		name                  string
		shared, docker, local bool
		want                  Source
	}{
		{"shared wins", true, true, true, SourceShared},
		{"docker before local", false, true, true, SourceContainer},
		{"local when docker is missing", false, false, true, SourceLocal},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := PickSource(tt.shared, tt.docker, tt.local)
			require.NoError(t, err)
			assert.Equal(t, tt.want, got)
		})
	}

	_, err := PickSource(false, false, false)
	assert.ErrorIs(t, err, ErrUnavailable)
}

func TestLocalAdminDSNs(t *testing.T) {
	t.Setenv("USER", "dev")
	dsns := localAdminDSNs()
	require.NotEmpty(t, dsns)
	assert.Contains(t, dsns, "postgres://dev@127.0.0.1:5432/postgres?sslmode=disable")
	for _, dsn := range dsns {
		assert.Contains(t, dsn, "127.0.0.1:5432")
	}
}
