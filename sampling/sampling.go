// Package sampling keeps the registry of named state variables and the
// binary sampler that records them per cycle in the TRF trace format.
package sampling

import (
	"encoding/binary"
	"fmt"
	"io"
	"sort"
)

// Category classifies how a variable evolves.
type Category int

const (
	// Cumulative variables only grow (event counters).
	Cumulative Category = iota
	// Level variables move both ways (queue depths).
	Level
	// Watermark variables track a maximum.
	Watermark
)

// Variable is one sampled state variable.
type Variable struct {
	Name     string
	Category Category
	read     func() uint64
}

// Registry holds the registered variables of one simulation.
type Registry struct {
	vars  []Variable
	index map[string]int
}

// NewRegistry creates an empty registry.
func NewRegistry() *Registry {
	return &Registry{index: make(map[string]int)}
}

// Register adds a variable backed by the given reader. Registering the
// same name twice is an error.
func (r *Registry) Register(name string, cat Category, read func() uint64) error {
	if _, ok := r.index[name]; ok {
		return fmt.Errorf("sampling: variable %q already registered", name)
	}
	r.index[name] = len(r.vars)
	r.vars = append(r.vars, Variable{Name: name, Category: cat, read: read})
	return nil
}

// RegisterCounter registers a cumulative counter variable.
func (r *Registry) RegisterCounter(name string, counter *uint64) error {
	return r.Register(name, Cumulative, func() uint64 { return *counter })
}

// Names returns the registered names, sorted.
func (r *Registry) Names() []string {
	names := make([]string, 0, len(r.vars))
	for _, v := range r.vars {
		names = append(names, v.Name)
	}
	sort.Strings(names)
	return names
}

// Read samples one variable by name.
func (r *Registry) Read(name string) (uint64, bool) {
	i, ok := r.index[name]
	if !ok {
		return 0, false
	}
	return r.vars[i].read(), true
}

// trfMagic marks a binary sample stream for the replay trace loader.
var trfMagic = [4]byte{'T', 'R', 'F', 0}

// BinarySampler writes selected variables as per-cycle binary frames:
// the TRF header, the variable name table, then one frame per Sample
// call holding the cycle followed, for each variable, by a valid byte and
// the value when the valid byte is set.
type BinarySampler struct {
	w        io.Writer
	registry *Registry
	selected []string
	last     []uint64
	frames   uint64
	started  bool
}

// NewBinarySampler creates a sampler over the named variables. Unknown
// names are an error.
func NewBinarySampler(w io.Writer, registry *Registry, names []string) (*BinarySampler, error) {
	for _, n := range names {
		if _, ok := registry.index[n]; !ok {
			return nil, fmt.Errorf("sampling: unknown variable %q", n)
		}
	}
	return &BinarySampler{
		w:        w,
		registry: registry,
		selected: append([]string(nil), names...),
		last:     make([]uint64, len(names)),
	}, nil
}

func (s *BinarySampler) writeHeader() error {
	if _, err := s.w.Write(trfMagic[:]); err != nil {
		return err
	}
	if err := binary.Write(s.w, binary.LittleEndian, uint32(len(s.selected))); err != nil {
		return err
	}
	for _, n := range s.selected {
		if err := binary.Write(s.w, binary.LittleEndian, uint32(len(n))); err != nil {
			return err
		}
		if _, err := io.WriteString(s.w, n); err != nil {
			return err
		}
	}
	return nil
}

// Sample records one frame at the given cycle. Variables that did not
// change since the previous frame are written with a cleared valid bit
// and no value, keeping the stream compact.
func (s *BinarySampler) Sample(cycle uint64) error {
	if !s.started {
		if err := s.writeHeader(); err != nil {
			return err
		}
		s.started = true
	}
	if err := binary.Write(s.w, binary.LittleEndian, cycle); err != nil {
		return err
	}
	for i, n := range s.selected {
		v, _ := s.registry.Read(n)
		valid := byte(0)
		if s.frames == 0 || v != s.last[i] {
			valid = 1
		}
		if err := binary.Write(s.w, binary.LittleEndian, valid); err != nil {
			return err
		}
		if valid == 1 {
			if err := binary.Write(s.w, binary.LittleEndian, v); err != nil {
				return err
			}
		}
		s.last[i] = v
	}
	s.frames++
	return nil
}
