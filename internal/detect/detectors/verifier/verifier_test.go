package verifier

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/nodeforge/botwall/internal/detect/blackboard"
)

type fakeResolver struct {
	addrNames map[string][]string
	hostAddrs map[string][]string
}

func (f fakeResolver) LookupAddr(_ context.Context, addr string) ([]string, error) {
	return f.addrNames[addr], nil
}

func (f fakeResolver) LookupHost(_ context.Context, host string) ([]string, error) {
	return f.hostAddrs[host], nil
}

func TestEvaluateConfirmsForwardMatchedCrawler(t *testing.T) {
	d := &Detector{
		resolver: fakeResolver{
			addrNames: map[string][]string{"203.0.113.9": {"crawl-203-0-113-9.googlebot.com."}},
			hostAddrs: map[string][]string{"crawl-203-0-113-9.googlebot.com.": {"203.0.113.9"}},
		},
		suffixes: defaultSuffixes,
	}

	f := blackboard.NewRequestFeatures("r1", 0)
	f.RemoteAddr = "203.0.113.9"
	bb := blackboard.New(f)

	c, err := d.Evaluate(context.Background(), bb)
	require.NoError(t, err)
	assert.Less(t, c.ConfidenceDelta, 0.0)
	assert.Equal(t, "SearchEngine", c.SuggestedBotType)

	confirmed, ok := bb.Signals.Get("verifiedbot.confirmed")
	require.True(t, ok)
	assert.True(t, confirmed.Bool)
	spoofed, ok := bb.Signals.Get("verifiedbot.spoofed")
	require.True(t, ok)
	assert.False(t, spoofed.Bool)
}

func TestEvaluateRejectsUnconfirmedForwardLookup(t *testing.T) {
	d := &Detector{
		resolver: fakeResolver{
			addrNames: map[string][]string{"203.0.113.9": {"crawl-203-0-113-9.googlebot.com."}},
			hostAddrs: map[string][]string{"crawl-203-0-113-9.googlebot.com.": {"198.51.100.1"}},
		},
		suffixes: defaultSuffixes,
	}

	f := blackboard.NewRequestFeatures("r1", 0)
	f.RemoteAddr = "203.0.113.9"
	bb := blackboard.New(f)

	c, err := d.Evaluate(context.Background(), bb)
	require.NoError(t, err)
	assert.Equal(t, 0.0, c.ConfidenceDelta)
}

func TestEvaluateSkipsUnknownReverseDNS(t *testing.T) {
	d := &Detector{
		resolver: fakeResolver{
			addrNames: map[string][]string{"203.0.113.9": {"some-host.example.com."}},
		},
		suffixes: defaultSuffixes,
	}

	f := blackboard.NewRequestFeatures("r1", 0)
	f.RemoteAddr = "203.0.113.9"
	bb := blackboard.New(f)

	c, err := d.Evaluate(context.Background(), bb)
	require.NoError(t, err)
	assert.Equal(t, 0.0, c.ConfidenceDelta)
}
