package dc

import (
	"testing"

	"github.com/stretchr/testify/require"
)

func TestFindReturnsKnownDC(t *testing.T) {
	e, err := Production.Find(2)
	require.NoError(t, err)
	require.Equal(t, "149.154.167.51", e.IPv4)
	require.Equal(t, 443, e.Port)
}

func TestFindReportsUnknownDC(t *testing.T) {
	_, err := Production.Find(99)
	require.Error(t, err)
	var unknown *ErrUnknownDC
	require.ErrorAs(t, err, &unknown)
	require.Equal(t, 99, unknown.ID)
}

func TestResolvePrefersIPv6WhenAsked(t *testing.T) {
	addr, port, ok := Production.Resolve(1, true)
	require.True(t, ok)
	require.Equal(t, "2001:b28:f23d:f001::a", addr)
	require.Equal(t, 443, port)
}

func TestResolveFallsBackToIPv4WhenNoIPv6Published(t *testing.T) {
	addr, port, ok := Test.Resolve(1, true)
	require.True(t, ok)
	require.Equal(t, "149.154.175.10", addr)
	require.Equal(t, 443, port)
}

func TestResolveUnknownDCFails(t *testing.T) {
	_, _, ok := Production.Resolve(42, false)
	require.False(t, ok)
}

func TestResolverClosureMatchesNetdriverResolverShape(t *testing.T) {
	resolve := Production.Resolver(false)
	addr, port, ok := resolve(3)
	require.True(t, ok)
	require.Equal(t, "149.154.175.100", addr)
	require.Equal(t, 443, port)
}
