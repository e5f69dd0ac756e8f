// Package pipeline provides a 5-stage pipeline model for cycle-accurate
// timing simulation of the APEX architecture.
//
// The pipeline implements the classic in-order design:
//   - Fetch: read the next static instruction from code memory
//   - Decode/RF: resolve operands, detect hazards, mark destinations busy
//   - Execute: ALU ops, effective-address computation, branch resolution
//   - Memory: data-memory load/store
//   - Writeback: commit results to the register file, retire instructions
//
// Each cycle invokes the five stages in REVERSE order — writeback, memory,
// execute, decode, fetch — so a stage's consumer has already drained its
// input latch before the producer overwrites it in the same tick. Running
// the stages forward would double-advance every in-flight instruction.
package pipeline

import (
	"fmt"
	"io"

	"github.com/apexkit/apexsim/insts"
	"github.com/apexkit/apexsim/state"
)

// Pipeline is one APEX core's 5-stage timing model.
type Pipeline struct {
	fetchStage     *FetchStage
	decodeStage    *DecodeStage
	executeStage   *ExecuteStage
	memoryStage    *MemoryStage
	writebackStage *WritebackStage
	hazardUnit     *HazardUnit

	state *state.ArchState

	fetch     StageLatch
	decode    StageLatch
	execute   StageLatch
	memory    StageLatch
	writeback StageLatch

	halted bool

	stallCount  uint64
	flushCount  uint64
	branchCount uint64

	trace io.Writer
}

// Option configures a Pipeline at construction time.
type Option func(*Pipeline)

// WithTraceWriter makes the pipeline print a per-stage snapshot after every
// Tick, the timing-model equivalent of the driver's "display" mode (§6.2).
func WithTraceWriter(w io.Writer) Option {
	return func(p *Pipeline) { p.trace = w }
}

// New builds a pipeline bound to the given architectural state and
// immutable code memory (I4).
func New(st *state.ArchState, code []insts.Instruction, opts ...Option) *Pipeline {
	hazard := NewHazardUnit()
	p := &Pipeline{
		fetchStage:     NewFetchStage(code),
		decodeStage:    NewDecodeStage(hazard),
		executeStage:   NewExecuteStage(),
		memoryStage:    NewMemoryStage(),
		writebackStage: NewWritebackStage(),
		hazardUnit:     hazard,
		state:          st,
	}
	// Fetch is enabled from the first cycle; only a HALT advancing from
	// fetch into decode disables it (§4.2 step 1/6).
	p.fetch.HasInsn = true

	for _, opt := range opts {
		opt(p)
	}

	return p
}

// Halted reports whether writeback has retired a HALT.
func (p *Pipeline) Halted() bool {
	return p.halted
}

// Stats summarizes a run for reporting (§4.1 "reports (clock, insn_completed)").
type Stats struct {
	Cycles       uint64
	Instructions uint64
	Stalls       uint64
	Branches     uint64
	Flushes      uint64
}

// Stats returns the pipeline's running performance counters.
func (p *Pipeline) Stats() Stats {
	return Stats{
		Cycles:       p.state.Clock,
		Instructions: p.state.InsnCompleted,
		Stalls:       p.stallCount,
		Branches:     p.branchCount,
		Flushes:      p.flushCount,
	}
}

// Tick advances the pipeline by exactly one cycle (§4.1, §5). It is a
// no-op once the pipeline has halted.
func (p *Pipeline) Tick() error {
	if p.halted {
		return nil
	}
	p.state.Clock++

	// Snapshot state read by stages running later this same cycle but
	// whose upstream latch is mutated earlier in the reverse-order tick.
	haltFetchDisabled := !p.fetch.HasInsn
	execSnapshot := p.execute

	if halted := p.writebackStage.Writeback(p.state, &p.writeback); halted {
		p.halted = true
	}

	if err := p.memoryStage.Access(p.state, &p.memory, &p.writeback); err != nil {
		return err
	}

	branchTaken := p.executeStage.Execute(p.state, &p.execute, &p.memory, &p.decode, &p.fetch, haltFetchDisabled)

	loadUseHazard := p.decodeStage.Decode(p.state, &p.decode, &execSnapshot, &p.execute)

	stalls := p.hazardUnit.ComputeStalls(loadUseHazard, branchTaken)
	if stalls.StallDecode {
		p.stallCount++
	}
	if stalls.Flush {
		p.flushCount++
		if execSnapshot.HasInsn && insts.IsBranchClass(execSnapshot.Opcode) {
			p.branchCount++
		}
	}

	decodeStalled := p.decode.HasInsn && p.decode.IsStalled
	if err := p.fetchStage.Fetch(p.state, &p.fetch, &p.decode, decodeStalled); err != nil {
		return err
	}

	if p.trace != nil {
		p.printTrace()
	}

	return nil
}

// Run advances the pipeline until a HALT retires or maxCycles is reached
// (0 means unbounded). It returns the resulting Stats.
func (p *Pipeline) Run(maxCycles uint64) (Stats, error) {
	for !p.halted {
		if maxCycles > 0 && p.state.Clock >= maxCycles {
			break
		}
		if err := p.Tick(); err != nil {
			return p.Stats(), err
		}
	}
	return p.Stats(), nil
}

// Fetch, Decode, Execute, Memory, and Writeback expose each stage's latch
// for inspection by single-step/display modes and tests.
func (p *Pipeline) Fetch() StageLatch     { return p.fetch }
func (p *Pipeline) Decode() StageLatch    { return p.decode }
func (p *Pipeline) Execute() StageLatch   { return p.execute }
func (p *Pipeline) Memory() StageLatch    { return p.memory }
func (p *Pipeline) Writeback() StageLatch { return p.writeback }

func (p *Pipeline) printTrace() {
	fmt.Fprintf(p.trace, "--- cycle %d ---\n", p.state.Clock)
	fmt.Fprintf(p.trace, "Fetch:     %s\n", latchSummary(p.fetch))
	fmt.Fprintf(p.trace, "Decode:    %s\n", latchSummary(p.decode))
	fmt.Fprintf(p.trace, "Execute:   %s\n", latchSummary(p.execute))
	fmt.Fprintf(p.trace, "Memory:    %s\n", latchSummary(p.memory))
	fmt.Fprintf(p.trace, "Writeback: %s\n", latchSummary(p.writeback))
}

// latchSummary renders a latch the way print_instruction formats a stage's
// in-flight instruction: mnemonic plus the operands that opcode actually
// carries, not a fixed arity. Bubbles print as "Empty".
func latchSummary(l StageLatch) string {
	if !l.HasInsn {
		return "Empty"
	}

	var operands string
	switch l.Opcode {
	case insts.OpADD, insts.OpSUB, insts.OpMUL, insts.OpDIV, insts.OpAND, insts.OpOR, insts.OpEXOR:
		operands = fmt.Sprintf(",R%d,R%d,R%d", l.Rd, l.Rs1, l.Rs2)
	case insts.OpADDL, insts.OpSUBL, insts.OpLOAD, insts.OpLDI:
		operands = fmt.Sprintf(",R%d,R%d,#%d", l.Rd, l.Rs1, l.Imm)
	case insts.OpSTORE:
		operands = fmt.Sprintf(",R%d,R%d,#%d", l.Rs1, l.Rs2, l.Imm)
	case insts.OpSTI:
		operands = fmt.Sprintf(",R%d,R%d,#%d", l.Rs2, l.Rs1, l.Imm)
	case insts.OpCMP:
		operands = fmt.Sprintf(",R%d,R%d", l.Rs1, l.Rs2)
	case insts.OpMOVC:
		operands = fmt.Sprintf(",R%d,#%d", l.Rd, l.Imm)
	case insts.OpBZ, insts.OpBNZ, insts.OpBP, insts.OpBNP:
		operands = fmt.Sprintf(",#%d", l.Imm)
	case insts.OpJUMP:
		operands = fmt.Sprintf(",R%d,#%d", l.Rs1, l.Imm)
	}

	return fmt.Sprintf("%s%s (pc=%d)", l.Mnemonic, operands, l.PC)
}
