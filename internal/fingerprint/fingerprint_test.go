package fingerprint

import (
	"net"
	"path/filepath"
	"regexp"
	"testing"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestFingerprintIsStableAcrossCalls(t *testing.T) {
	g := NewGenerator(filepath.Join(t.TempDir(), "identity"), nil)

	first := g.Fingerprint()
	second := g.Fingerprint()

	assert.Equal(t, first, second, "fingerprint must be stable within a process")
}

func TestFingerprintFormat(t *testing.T) {
	g := NewGenerator(filepath.Join(t.TempDir(), "identity"), nil)

	fp := g.Fingerprint()

	assert.Len(t, fp, DigestLength)
	assert.Regexp(t, regexp.MustCompile(`^[0-9a-f]{16}$`), fp)
}

func TestComponentsIncludePlatform(t *testing.T) {
	g := NewGenerator(filepath.Join(t.TempDir(), "identity"), nil)

	comps := g.Components()

	require.NotNil(t, comps)
	assert.NotEmpty(t, comps.OS)
	assert.NotEmpty(t, comps.Arch)
}

func TestPersistedIdentityIsReused(t *testing.T) {
	path := filepath.Join(t.TempDir(), "sub", "identity")
	g := NewGenerator(path, nil)

	first, err := g.persistedIdentity()
	require.NoError(t, err)
	_, err = uuid.Parse(first)
	require.NoError(t, err)

	second, err := g.persistedIdentity()
	require.NoError(t, err)
	assert.Equal(t, first, second, "fallback identity must survive re-reads")
}

func TestUsableMACRejectsNullAndBroadcast(t *testing.T) {
	tests := []struct {
		name string
		addr string
		want bool
	}{
		{name: "null address", addr: "00:00:00:00:00:00", want: false},
		{name: "broadcast address", addr: "ff:ff:ff:ff:ff:ff", want: false},
		{name: "real address", addr: "52:54:00:12:34:56", want: true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			hw, err := net.ParseMAC(tt.addr)
			require.NoError(t, err)

			got := usableMAC(hw)
			if tt.want {
				assert.Equal(t, tt.addr, got)
			} else {
				assert.Empty(t, got)
			}
		})
	}
}
