// Package monitoring serves live component state over HTTP for
// inspection while a simulation runs.
package monitoring

import (
	"encoding/json"
	"fmt"
	"io"
	"net"
	"net/http"
	"sort"
	"strings"
	"sync"

	"github.com/gorilla/mux"
	"github.com/syifan/goseth"

	"github.com/sarchlab/tokensim/sim"
	"github.com/sarchlab/tokensim/tslog"
)

// Inspectable components render their own detail views.
type Inspectable interface {
	Info(w io.Writer, args []string)
	Inspect(w io.Writer, args []string)
}

// Monitor registers components and serves them over HTTP.
type Monitor struct {
	mu         sync.Mutex
	kernel     *sim.Kernel
	components map[string]interface{}
	names      []string

	logger   *tslog.Logger
	server   *http.Server
	listener net.Listener
}

// NewMonitor creates an empty monitor.
func NewMonitor(kernel *sim.Kernel, logger *tslog.Logger) *Monitor {
	if logger == nil {
		logger = tslog.Discard()
	}
	return &Monitor{
		kernel:     kernel,
		components: make(map[string]interface{}),
		logger:     logger,
	}
}

// RegisterComponent makes a named component inspectable.
func (m *Monitor) RegisterComponent(c sim.Named) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, ok := m.components[c.Name()]; ok {
		return
	}
	m.components[c.Name()] = c
	m.names = append(m.names, c.Name())
	sort.Strings(m.names)
}

// Components returns the registered names.
func (m *Monitor) Components() []string {
	m.mu.Lock()
	defer m.mu.Unlock()
	return append([]string(nil), m.names...)
}

// Component resolves one registered component.
func (m *Monitor) Component(name string) (interface{}, bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	c, ok := m.components[name]
	return c, ok
}

// StartServer begins serving on the given address ("127.0.0.1:0" picks a
// free port). It returns the bound address.
func (m *Monitor) StartServer(addr string) (string, error) {
	r := mux.NewRouter()
	r.HandleFunc("/api/components", m.handleList)
	r.HandleFunc("/api/component/{name}", m.handleComponent)
	r.HandleFunc("/api/cycle", m.handleCycle)

	listener, err := net.Listen("tcp", addr)
	if err != nil {
		return "", err
	}
	m.listener = listener
	m.server = &http.Server{Handler: r}
	go func() {
		if err := m.server.Serve(listener); err != nil && err != http.ErrServerClosed {
			m.logger.Err().Err(err).Log("monitor server stopped")
		}
	}()
	m.logger.Info().Str("addr", listener.Addr().String()).Log("monitor listening")
	return listener.Addr().String(), nil
}

// StopServer shuts the server down.
func (m *Monitor) StopServer() error {
	if m.server == nil {
		return nil
	}
	return m.server.Close()
}

func (m *Monitor) handleList(w http.ResponseWriter, _ *http.Request) {
	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(m.Components())
}

// handleComponent serializes the live component state. The serializer
// walks the concrete struct, so the view stays current without the
// component implementing anything.
func (m *Monitor) handleComponent(w http.ResponseWriter, r *http.Request) {
	name := mux.Vars(r)["name"]
	c, ok := m.Component(name)
	if !ok {
		http.Error(w, "unknown component", http.StatusNotFound)
		return
	}

	query := r.URL.Query()
	if query.Get("view") == "inspect" {
		insp, ok := c.(Inspectable)
		if !ok {
			http.Error(w, "component is not inspectable", http.StatusNotFound)
			return
		}
		var b strings.Builder
		insp.Inspect(&b, nil)
		w.Header().Set("Content-Type", "text/plain")
		io.WriteString(w, b.String())
		return
	}

	serializer := goseth.NewSerializer()
	serializer.SetRoot(c)
	var b strings.Builder
	if err := serializer.Serialize(&b); err != nil {
		http.Error(w, fmt.Sprintf("serialization failed: %v", err), http.StatusInternalServerError)
		return
	}
	w.Header().Set("Content-Type", "application/json")
	io.WriteString(w, b.String())
}

func (m *Monitor) handleCycle(w http.ResponseWriter, _ *http.Request) {
	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(map[string]uint64{"master_cycle": m.kernel.MasterCycle()})
}
