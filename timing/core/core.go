// Package core wires the loader, architectural state, and timing pipeline
// together behind the driver interface the CLI consumes (§6.2).
package core

import (
	"bufio"
	"fmt"
	"io"
	"os"
	"strings"

	"github.com/apexkit/apexsim/loader"
	"github.com/apexkit/apexsim/state"
	"github.com/apexkit/apexsim/timing/pipeline"
)

// Mode selects how Run drives the pipeline.
type Mode string

// Driver modes (§6.2).
const (
	ModeSimulate   Mode = "simulate"
	ModeDisplay    Mode = "display"
	ModeSingleStep Mode = "single_step"
	ModeShowMem    Mode = "showmem"
)

// Stats reports a finished or in-progress run.
type Stats = pipeline.Stats

// Core is one APEX CPU: architectural state, the loaded program, and the
// timing pipeline advancing it.
type Core struct {
	Pipeline *pipeline.Pipeline

	state *state.ArchState
	mode  Mode
	count uint64

	out io.Writer
	in  *bufio.Reader
}

// Option configures a Core at Init time.
type Option func(*Core)

// WithOutput redirects display/single-step output (tests use this
// to capture output instead of writing to stdout).
func WithOutput(w io.Writer) Option {
	return func(c *Core) { c.out = w }
}

// WithInput redirects single-step's keystroke reader.
func WithInput(r io.Reader) Option {
	return func(c *Core) { c.in = bufio.NewReader(r) }
}

// Init loads filename, validates mode and count, and returns a Core ready
// to Run; no cycles execute yet (§6.1, §6.2, §7 initialisation errors).
func Init(filename string, mode string, count int, opts ...Option) (*Core, error) {
	m := Mode(mode)
	switch m {
	case ModeSimulate, ModeDisplay, ModeSingleStep, ModeShowMem:
	default:
		return nil, fmt.Errorf("core: unknown mode %q", mode)
	}
	if count < 0 {
		return nil, fmt.Errorf("core: count must be non-negative, got %d", count)
	}

	code, err := loader.Load(filename)
	if err != nil {
		return nil, err
	}

	st := state.New()
	c := &Core{
		state: st,
		mode:  m,
		count: uint64(count),
		out:   os.Stdout,
		in:    bufio.NewReader(os.Stdin),
	}
	for _, opt := range opts {
		opt(c)
	}

	var pipeOpts []pipeline.Option
	if m == ModeDisplay {
		pipeOpts = append(pipeOpts, pipeline.WithTraceWriter(c.out))
	}
	c.Pipeline = pipeline.New(st, code, pipeOpts...)

	return c, nil
}

// Halted reports whether the pipeline has retired a HALT.
func (c *Core) Halted() bool {
	return c.Pipeline.Halted()
}

// Stats returns the running performance counters.
func (c *Core) Stats() Stats {
	return c.Pipeline.Stats()
}

// State exposes the architectural state for inspection (showmem, tests).
func (c *Core) State() *state.ArchState {
	return c.state
}

// Run advances cycles until HALT retires or the configured cycle cap is
// reached; showmem is exempt from the cap (§4.1, §6.2). In single_step
// mode it prints the register file after every cycle and stops early on a
// 'q'/'Q' keystroke.
func (c *Core) Run() (Stats, error) {
	for !c.Pipeline.Halted() {
		if c.mode != ModeShowMem && c.count > 0 && c.Pipeline.Stats().Cycles >= c.count {
			break
		}

		if err := c.Pipeline.Tick(); err != nil {
			return c.Pipeline.Stats(), err
		}

		if c.mode == ModeSingleStep {
			if c.stepAndCheckQuit() {
				break
			}
		}
	}
	return c.Pipeline.Stats(), nil
}

// ShowMemory returns the data-memory cell named by count, the reporting
// contract of showmem mode.
func (c *Core) ShowMemory() (int32, error) {
	return c.state.ReadMemory(int32(c.count))
}

// Stop releases the core's state; the Core must not be reused after Stop.
func (c *Core) Stop() {
	c.state = nil
	c.Pipeline = nil
}

func (c *Core) stepAndCheckQuit() bool {
	c.printRegisters()
	fmt.Fprint(c.out, "press enter to continue, q to quit: ")
	line, _ := c.in.ReadString('\n')
	line = strings.TrimSpace(line)
	return line == "q" || line == "Q"
}

func (c *Core) printRegisters() {
	fmt.Fprintln(c.out, "-------------------------------------------")
	fmt.Fprintln(c.out, "STATE OF ARCHITECTURAL REGISTER FILE:")
	fmt.Fprintln(c.out, "-------------------------------------------")
	for i := 0; i < state.NumRegs; i++ {
		status := "valid"
		if c.state.ValidBit[i] {
			status = "invalid"
		}
		fmt.Fprintf(c.out, "R[%d]\tValue=%d\tstatus=%s\n", i, c.state.Regs[i], status)
	}
}
