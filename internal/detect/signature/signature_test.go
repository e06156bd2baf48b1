package signature

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func testKey() []byte {
	return []byte("0123456789abcdef0123456789abcdef")
}

func TestNewServiceRejectsShortKey(t *testing.T) {
	_, err := NewService([]byte("short"))
	require.Error(t, err)
}

func TestBuildIsDeterministic(t *testing.T) {
	svc, err := NewService(testKey())
	require.NoError(t, err)

	in := Inputs{IP: "203.0.113.7", UserAgent: "Mozilla/5.0", Subnet: "203.0.113.0/24", Method: "GET", Path: "/api/widgets"}

	a := svc.Build(in)
	b := svc.Build(in)

	assert.Equal(t, a, b)
	assert.NotEmpty(t, a.Primary)
	assert.Len(t, a.Primary, MaxHexLen)
}

func TestBuildOmitsMissingFactors(t *testing.T) {
	svc, err := NewService(testKey())
	require.NoError(t, err)

	out := svc.Build(Inputs{UserAgent: "Mozilla/5.0"})
	assert.Empty(t, out.Primary)
	assert.Empty(t, out.IPHash)
	assert.NotEmpty(t, out.UAHash)
}

func TestDistinctFactorsNeverCollide(t *testing.T) {
	svc, err := NewService(testKey())
	require.NoError(t, err)

	sameValue := "12345"
	out := svc.Build(Inputs{IP: sameValue, UserAgent: sameValue})
	assert.NotEqual(t, out.IPHash, out.UAHash)
}

func TestHasFactor(t *testing.T) {
	svc, err := NewService(testKey())
	require.NoError(t, err)

	out := svc.Build(Inputs{IP: "203.0.113.7"})
	assert.True(t, out.HasFactor("ip"))
	assert.False(t, out.HasFactor("ua"))
}
