package main

import (
	"testing"

	"github.com/stretchr/testify/require"
)

func TestRunReturnsStartupErrors(t *testing.T) {
	tests := []struct {
		name string
		env  map[string]string
		want string
	}{
		{
			name: "invalid config",
			env:  map[string]string{"TREND_STALE_JOB_MINUTES": "0"},
			want: "load configuration",
		},
		{
			name: "unsupported database",
			env:  map[string]string{"TREND_DATABASE_URL": "mysql://localhost/trends"},
			want: "connect to database",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			for k, v := range tt.env {
				t.Setenv(k, v)
			}
			require.ErrorContains(t, run(), tt.want)
		})
	}
}
