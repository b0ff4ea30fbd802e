package main

import (
	"errors"
	"fmt"
	"os"

	"github.com/jedib0t/go-pretty/v6/table"

	"github.com/sarchlab/tokensim/sampling"
	"github.com/sarchlab/tokensim/sim"
)

func runBatch() error {
	s, err := buildSimulation()
	if err != nil {
		return err
	}
	defer s.close()

	if flagSample != "" {
		err = runSampled(s)
	} else {
		err = s.kernel.Run(flagCycles)
	}
	var deadlock *sim.DeadlockError
	if errors.As(err, &deadlock) {
		fmt.Fprint(os.Stderr, deadlock.Error())
		return err
	}
	if err != nil {
		return err
	}

	printStats(s)
	return nil
}

// runSampled steps the kernel and records the registered variables into
// the TRF stream every sampleInterval master cycles.
func runSampled(s *simulation) error {
	const sampleInterval = 256

	f, err := os.Create(flagSample)
	if err != nil {
		return err
	}
	defer f.Close()
	sampler, err := sampling.NewBinarySampler(f, s.samples, s.samples.Names())
	if err != nil {
		return err
	}

	for i := uint64(0); flagCycles == 0 || i < flagCycles; i++ {
		if s.kernel.Idle() {
			break
		}
		if err := s.kernel.Step(); err != nil {
			return err
		}
		if i%sampleInterval == 0 {
			if err := sampler.Sample(s.kernel.MasterCycle()); err != nil {
				return err
			}
		}
	}
	return sampler.Sample(s.kernel.MasterCycle())
}

func printStats(s *simulation) {
	st := s.memory.Statistics()

	t := table.NewWriter()
	t.SetOutputMirror(os.Stdout)
	t.SetTitle("memory statistics")
	t.AppendHeader(table.Row{"Counter", "Value"})
	t.AppendRows([]table.Row{
		{"master cycles", s.kernel.MasterCycle()},
		{"reads", st.Reads},
		{"read bytes", st.ReadBytes},
		{"writes", st.Writes},
		{"write bytes", st.WriteBytes},
		{"external reads", st.ExternalReads},
		{"external writes", st.ExternalWrites},
	})
	t.Render()

	ct := table.NewWriter()
	ct.SetOutputMirror(os.Stdout)
	ct.SetTitle("clients")
	ct.AppendHeader(table.Row{"Client", "Reads", "Writes"})
	for _, g := range s.gens {
		ct.AppendRow(table.Row{g.name, g.readsDone, g.writesDone})
	}
	ct.Render()
}
