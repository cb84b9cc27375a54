package io

import (
	"context"
	"testing"
	"testing/fstest"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/slok/slotrunner/internal/model"
)

func TestProxiesRepositoryListProxies(t *testing.T) {
	tests := map[string]struct {
		fs        fstest.MapFS
		expHosts  []string
		expRegion []string
		expErr    bool
	}{
		"A mixed layout list should load.": {
			fs: fstest.MapFS{
				"proxies.txt": &fstest.MapFile{Data: []byte(`# Residential
proxy.soax.com:5000:authtoken:wifi;al;
1.2.3.4:8080:user:pass
`)},
			},
			expHosts:  []string{"proxy.soax.com", "1.2.3.4"},
			expRegion: []string{"al", "unknown"},
		},

		"A list without proxies should fail.": {
			fs: fstest.MapFS{
				"proxies.txt": &fstest.MapFile{Data: []byte("# nothing\n\n")},
			},
			expErr: true,
		},

		"An invalid proxy should fail.": {
			fs: fstest.MapFS{
				"proxies.txt": &fstest.MapFile{Data: []byte("1.2.3.4:8080\n")},
			},
			expErr: true,
		},

		"A missing file should fail.": {
			fs:     fstest.MapFS{},
			expErr: true,
		},
	}

	for name, test := range tests {
		t.Run(name, func(t *testing.T) {
			repo := NewProxiesRepository(test.fs)
			proxies, err := repo.ListProxies(context.Background(), "proxies.txt")

			if test.expErr {
				assert.ErrorIs(t, err, model.ErrConfig)
				return
			}
			require.NoError(t, err)

			var hosts, regions []string
			for _, p := range proxies {
				hosts = append(hosts, p.Host)
				regions = append(regions, p.Region)
			}
			assert.Equal(t, test.expHosts, hosts)
			assert.Equal(t, test.expRegion, regions)
		})
	}
}
