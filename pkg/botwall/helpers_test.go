package botwall

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestHostOnlyStripsPort(t *testing.T) {
	assert.Equal(t, "203.0.113.7", hostOnly("203.0.113.7:54321"))
	assert.Equal(t, "203.0.113.7", hostOnly("203.0.113.7"))
}

func TestSubnet24(t *testing.T) {
	assert.Equal(t, "203.0.113.0/24", subnet24("203.0.113.200"))
	assert.Equal(t, "", subnet24("not-an-ip"))
}
