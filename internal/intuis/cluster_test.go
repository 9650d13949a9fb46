package intuis

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestClusterPool_Failover(t *testing.T) {
	p := newClusterPool([]string{"https://a", "https://b"})
	now := time.Now()

	url, ok := p.pick(now)
	require.True(t, ok)
	assert.Equal(t, "https://a", url)

	// a failure moves selection to the next endpoint
	p.failure("https://a", now)
	url, ok = p.pick(now)
	require.True(t, ok)
	assert.Equal(t, "https://b", url)

	// a success makes the endpoint sticky
	p.success("https://b")
	url, _ = p.pick(now)
	assert.Equal(t, "https://b", url)

	// b failing wraps back to a
	p.failure("https://b", now)
	url, ok = p.pick(now)
	require.True(t, ok)
	assert.Equal(t, "https://a", url)
}

func TestClusterPool_CoolDown(t *testing.T) {
	p := newClusterPool([]string{"https://a", "https://b"})
	now := time.Now()

	for range p.failureLimit {
		p.failure("https://a", now)
	}
	// a is down: only b is offered
	url, ok := p.pick(now)
	require.True(t, ok)
	assert.Equal(t, "https://b", url)

	for range p.failureLimit {
		p.failure("https://b", now)
	}
	_, ok = p.pick(now)
	assert.False(t, ok)

	// after the cool-down window, endpoints are offered again
	later := now.Add(p.coolDown + time.Second)
	url, ok = p.pick(later)
	require.True(t, ok)
	assert.Equal(t, "https://a", url)
}

func TestClusterPool_SuccessResetsFailures(t *testing.T) {
	p := newClusterPool([]string{"https://a"})
	now := time.Now()

	p.failure("https://a", now)
	p.failure("https://a", now)
	p.success("https://a")
	p.failure("https://a", now)

	// the earlier failures no longer count towards taking it down
	url, ok := p.pick(now)
	require.True(t, ok)
	assert.Equal(t, "https://a", url)
}
