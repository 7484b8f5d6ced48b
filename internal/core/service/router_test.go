package service

import (
	"net"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestClientFilterMatches(t *testing.T) {

	assert := assert.New(t)

	f, err := NewClientFilter([]string{"10.0.0.0/24", "192.168.1.7"}, nil)
	assert.NoError(err)

	assert.True(f.Matches("10.0.0.5"))
	assert.True(f.Matches("192.168.1.7"))
	assert.True(f.Matches("::ffff:10.0.0.9"))
	assert.False(f.Matches("10.0.1.5"))
	assert.False(f.Matches("192.168.1.8"))
	assert.False(f.Matches("not-an-ip"))
	assert.False(f.Matches("fe80::1"))
}

func TestClientFilterDefaultsToAll(t *testing.T) {

	assert := assert.New(t)

	f, err := NewClientFilter(nil, nil)
	assert.NoError(err)
	assert.True(f.Matches("8.8.8.8"))
}

func TestClientFilterRejectsBadNetmask(t *testing.T) {

	assert := assert.New(t)

	_, err := NewClientFilter([]string{"10.0.0.0/33"}, nil)
	assert.Error(err)
	_, err = NewClientFilter([]string{"fd00::/8"}, nil)
	assert.Error(err)
}

func TestRouterFirstMatchWins(t *testing.T) {

	require := require.New(t)

	sourceA := &scriptedSource{}
	sourceB := &scriptedSource{}
	filterA, err := NewClientFilter([]string{"10.0.0.0/24"}, nil)
	require.NoError(err)
	filterB, err := NewClientFilter([]string{"0.0.0.0/0"}, nil)
	require.NoError(err)

	router := NewRouter([]Route{
		{Name: "a", Source: sourceA, Filter: filterA},
		{Name: "b", Source: sourceB, Filter: filterB},
	}, nil)

	src, ok := router.Resolve("10.0.0.5")
	require.True(ok)
	require.Same(sourceA, src)

	src, ok = router.Resolve("192.168.1.5")
	require.True(ok)
	require.Same(sourceB, src)

	src, ok = router.ResolveAddr(&net.UDPAddr{IP: net.ParseIP("10.0.0.20"), Port: 5000})
	require.True(ok)
	require.Same(sourceA, src)
}

func TestEmptyRouterResolvesNothing(t *testing.T) {

	assert := assert.New(t)

	router := NewRouter(nil, nil)
	src, ok := router.Resolve("10.0.0.5")
	assert.False(ok)
	assert.Nil(src)
}
