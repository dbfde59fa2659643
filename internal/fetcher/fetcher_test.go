package fetcher

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestForURL(t *testing.T) {
	tests := []struct {
		url     string
		want    string
		wantErr bool
	}{
		{"https://data.worldpop.org/GIS/x.zip", "http", false},
		{"http://localhost:8080/x.zip", "http", false},
		{"ftp://ftp.worldpop.org/GIS/x.zip", "ftp", false},
		{"s3://bucket/x.zip", "", true},
		{"://bad", "", true},
	}
	for _, tt := range tests {
		t.Run(tt.url, func(t *testing.T) {
			f, err := ForURL(tt.url, Options{Progress: true})
			if tt.wantErr {
				require.Error(t, err)
				return
			}
			require.NoError(t, err)
			switch tt.want {
			case "http":
				hf, ok := f.(*HTTPFetcher)
				require.True(t, ok)
				assert.True(t, hf.opts.Progress)
			case "ftp":
				ff, ok := f.(*FTPFetcher)
				require.True(t, ok)
				assert.True(t, ff.opts.Progress)
			}
		})
	}
}
