package monitoring

import (
	"encoding/json"
	"io"
	"net/http"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/sarchlab/tokensim/sim"
)

type namedThing struct {
	Label string
	Count int
}

func (n *namedThing) Name() string { return n.Label }

func TestComponentRegistry(t *testing.T) {
	kernel := sim.NewKernel()
	m := NewMonitor(kernel, nil)

	m.RegisterComponent(&namedThing{Label: "cache0"})
	m.RegisterComponent(&namedThing{Label: "rootdir0"})
	m.RegisterComponent(&namedThing{Label: "cache0"}) // duplicate ignored

	assert.Equal(t, []string{"cache0", "rootdir0"}, m.Components())

	_, ok := m.Component("cache0")
	assert.True(t, ok)
	_, ok = m.Component("ghost")
	assert.False(t, ok)
}

func TestHTTPEndpoints(t *testing.T) {
	kernel := sim.NewKernel()
	m := NewMonitor(kernel, nil)
	m.RegisterComponent(&namedThing{Label: "cache0", Count: 3})

	addr, err := m.StartServer("127.0.0.1:0")
	require.NoError(t, err)
	defer m.StopServer()

	resp, err := http.Get("http://" + addr + "/api/components")
	require.NoError(t, err)
	defer resp.Body.Close()
	var names []string
	require.NoError(t, json.NewDecoder(resp.Body).Decode(&names))
	assert.Equal(t, []string{"cache0"}, names)

	resp, err = http.Get("http://" + addr + "/api/component/cache0")
	require.NoError(t, err)
	defer resp.Body.Close()
	assert.Equal(t, http.StatusOK, resp.StatusCode)
	body, err := io.ReadAll(resp.Body)
	require.NoError(t, err)
	assert.NotEmpty(t, body)

	resp, err = http.Get("http://" + addr + "/api/component/ghost")
	require.NoError(t, err)
	resp.Body.Close()
	assert.Equal(t, http.StatusNotFound, resp.StatusCode)

	resp, err = http.Get("http://" + addr + "/api/cycle")
	require.NoError(t, err)
	defer resp.Body.Close()
	var cycle map[string]uint64
	require.NoError(t, json.NewDecoder(resp.Body).Decode(&cycle))
	assert.Equal(t, uint64(0), cycle["master_cycle"])
}
