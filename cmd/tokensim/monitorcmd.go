package main

import (
	"bufio"
	"fmt"
	"os"
	"strconv"
	"strings"

	"github.com/sarchlab/tokensim/mem"
	"github.com/sarchlab/tokensim/monitoring"
	"github.com/sarchlab/tokensim/sampling"
)

// runMonitor drives the interactive command loop: info, inspect, line,
// trace, breakpoint, run, step, quit.
func runMonitor() error {
	s, err := buildSimulation()
	if err != nil {
		return err
	}
	defer s.close()

	in := bufio.NewScanner(os.Stdin)
	out := os.Stdout
	fmt.Fprintln(out, "tokensim interactive monitor; 'help' lists commands")

	for {
		fmt.Fprint(out, "> ")
		if !in.Scan() {
			return in.Err()
		}
		fields := strings.Fields(in.Text())
		if len(fields) == 0 {
			continue
		}
		cmd, args := fields[0], fields[1:]

		switch cmd {
		case "quit", "q", "exit":
			return nil

		case "help":
			fmt.Fprintln(out, "commands:\n"+
				"  info <component>              describe a component\n"+
				"  inspect <component> [args]    dump component state\n"+
				"  line <address>                locate a line in the system\n"+
				"  trace <address> [clear]       toggle address tracing\n"+
				"  breakpoint add <addr> <mode>  set a breakpoint (modes R W X T)\n"+
				"  breakpoint list | clear <addr>\n"+
				"  run [cycles]                  run until idle or breakpoint\n"+
				"  step [n]                      advance n master cycles\n"+
				"  quit")

		case "info", "inspect":
			if len(args) < 1 {
				fmt.Fprintf(out, "usage: %s <component>\n", cmd)
				continue
			}
			c, ok := s.monitor.Component(args[0])
			if !ok {
				fmt.Fprintln(out, "unknown component; registered:")
				for _, n := range s.monitor.Components() {
					fmt.Fprintln(out, "  "+n)
				}
				continue
			}
			insp, ok := c.(monitoring.Inspectable)
			if !ok {
				fmt.Fprintln(out, "component is not inspectable")
				continue
			}
			if cmd == "info" {
				insp.Info(out, args[1:])
			} else {
				insp.Inspect(out, args[1:])
			}

		case "line":
			if len(args) != 1 {
				fmt.Fprintln(out, "usage: line <address>")
				continue
			}
			addr, err := parseAddr(args[0])
			if err != nil {
				fmt.Fprintln(out, err)
				continue
			}
			reporter, ok := s.memory.(lineReporter)
			if !ok {
				fmt.Fprintln(out, "backend does not track line state")
				continue
			}
			fmt.Fprint(out, reporter.LineReport(addr))

		case "trace":
			if len(args) < 1 {
				fmt.Fprintln(out, "usage: trace <address> [clear]")
				continue
			}
			addr, err := parseAddr(args[0])
			if err != nil {
				fmt.Fprintln(out, err)
				continue
			}
			tracer, ok := s.memory.(lineTracer)
			if !ok {
				fmt.Fprintln(out, "backend does not support address tracing")
				continue
			}
			enable := len(args) < 2 || args[1] != "clear"
			tracer.TraceLine(addr, enable)

		case "breakpoint", "bp":
			handleBreakpoint(s, out, args)

		case "run":
			limit := uint64(0)
			if len(args) > 0 {
				n, err := strconv.ParseUint(args[0], 0, 64)
				if err != nil {
					fmt.Fprintln(out, "bad cycle count")
					continue
				}
				limit = n
			}
			if err := runUntilBreak(s, limit); err != nil {
				fmt.Fprintln(out, err)
			}
			fmt.Fprintf(out, "master cycle %d\n", s.kernel.MasterCycle())

		case "step":
			n := uint64(1)
			if len(args) > 0 {
				v, err := strconv.ParseUint(args[0], 0, 64)
				if err != nil {
					fmt.Fprintln(out, "bad step count")
					continue
				}
				n = v
			}
			for i := uint64(0); i < n && !s.kernel.Idle(); i++ {
				if err := s.kernel.Step(); err != nil {
					fmt.Fprintln(out, err)
					break
				}
			}
			fmt.Fprintf(out, "master cycle %d\n", s.kernel.MasterCycle())

		default:
			fmt.Fprintf(out, "unknown command %q; try help\n", cmd)
		}
	}
}

func handleBreakpoint(s *simulation, out *os.File, args []string) {
	if len(args) == 0 {
		fmt.Fprintln(out, "usage: breakpoint add|list|clear|enable|disable ...")
		return
	}
	switch args[0] {
	case "list":
		s.breaks.List(out)
	case "add":
		if len(args) != 3 {
			fmt.Fprintln(out, "usage: breakpoint add <address> <mode>")
			return
		}
		addr, err := parseAddr(args[1])
		if err != nil {
			fmt.Fprintln(out, err)
			return
		}
		mode, err := sampling.ParseBreakMode(args[2])
		if err != nil {
			fmt.Fprintln(out, err)
			return
		}
		s.breaks.Set(uint64(addr), mode)
	case "clear":
		if len(args) != 2 {
			fmt.Fprintln(out, "usage: breakpoint clear <address>")
			return
		}
		addr, err := parseAddr(args[1])
		if err != nil {
			fmt.Fprintln(out, err)
			return
		}
		s.breaks.Clear(uint64(addr))
	case "enable", "disable":
		if len(args) != 2 {
			fmt.Fprintln(out, "usage: breakpoint enable|disable <address>")
			return
		}
		addr, err := parseAddr(args[1])
		if err != nil {
			fmt.Fprintln(out, err)
			return
		}
		if !s.breaks.Enable(uint64(addr), args[0] == "enable") {
			fmt.Fprintln(out, "no such breakpoint")
		}
	default:
		fmt.Fprintf(out, "unknown breakpoint subcommand %q\n", args[0])
	}
}

// runUntilBreak advances the kernel, pausing when a stopping breakpoint
// records a new hit.
func runUntilBreak(s *simulation, limit uint64) error {
	seen := len(s.breaks.Hits())
	for i := uint64(0); limit == 0 || i < limit; i++ {
		if s.kernel.Idle() {
			return nil
		}
		if err := s.kernel.Step(); err != nil {
			return err
		}
		hits := s.breaks.Hits()
		for _, h := range hits[seen:] {
			fmt.Printf("breakpoint: %s at 0x%x, cycle %d\n", h.Mode, h.Address, h.Cycle)
			if h.Stop {
				return nil
			}
		}
		seen = len(hits)
	}
	return nil
}

func parseAddr(s string) (mem.Address, error) {
	v, err := strconv.ParseUint(s, 0, 64)
	if err != nil {
		return 0, fmt.Errorf("bad address %q", s)
	}
	return mem.Address(v), nil
}
