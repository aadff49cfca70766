package timezone

import (
	"testing"

	"github.com/stretchr/testify/require"
)

func TestCaracasClock(t *testing.T) {
	require.Equal(t, "America/Caracas", Location.String())

	now := Now()
	require.Equal(t, Location, now.Location())

	// Venezuela sits at a fixed UTC-4, there is no DST to surprise
	// date arithmetic
	_, offset := now.Zone()
	require.Equal(t, -4*60*60, offset)
}
