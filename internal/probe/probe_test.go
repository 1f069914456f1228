package probe

import (
	"testing"

	"github.com/stretchr/testify/require"
)

// TestProbeReturnsBlockSize checks the parts of Capabilities that don't
// depend on the specific filesystem or kernel build under test: block
// size must always be discoverable for a writable directory. DirectIO
// and NonBlockingAIO are genuinely environment-dependent and are not
// asserted here.
func TestProbeReturnsBlockSize(t *testing.T) {
	caps, err := Probe(t.TempDir())
	require.NoError(t, err)
	require.Greater(t, caps.BlockSize, int64(0))
}

func TestProbeRejectsMissingDir(t *testing.T) {
	_, err := Probe("/nonexistent/path/that/should/not/exist")
	require.Error(t, err)
}
