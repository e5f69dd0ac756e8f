package pipeline

import (
	"fmt"

	"github.com/apexkit/apexsim/insts"
	"github.com/apexkit/apexsim/state"
)

// FetchStage reads the next instruction from code memory, advances the
// program counter, and honours decode stalls and branch redirects (§4.2).
type FetchStage struct {
	code []insts.Instruction
}

// NewFetchStage creates a fetch stage bound to the given (immutable) code
// memory (I4).
func NewFetchStage(code []insts.Instruction) *FetchStage {
	return &FetchStage{code: code}
}

// Fetch advances the fetch stage by one cycle, writing into decode when the
// instruction is allowed to advance. decodeStalled reports whether decode
// could not issue this cycle.
func (s *FetchStage) Fetch(st *state.ArchState, fetch, decode *StageLatch, decodeStalled bool) error {
	if !fetch.HasInsn {
		return nil
	}

	if fetch.IsStalled {
		// Resume the instruction already sitting in the fetch latch: the
		// decode stall that blocked it last cycle has cleared. No re-read
		// of code memory (it is immutable, so this is purely an
		// optimization, but it matches the two-path shape of the
		// original fetch contract).
		if decodeStalled {
			return nil
		}
		fetch.IsStalled = false
		st.PC += state.PCStep
		*decode = *fetch
		if fetch.Opcode == insts.OpHALT {
			fetch.HasInsn = false
		}
		return nil
	}

	if st.FetchFromNextCycle {
		// This cycle is the branch-redirect bubble: skip fetching so the
		// next cycle fetches from the freshly redirected PC.
		st.FetchFromNextCycle = false
		return nil
	}

	pc := st.PC
	idx := state.CodeIndex(pc)
	if idx < 0 || idx >= len(s.code) {
		return fmt.Errorf("fetch: pc %d indexes past the end of code memory without a HALT", pc)
	}
	fetch.FromInstruction(pc, s.code[idx])

	if decodeStalled {
		fetch.IsStalled = true
		return nil
	}

	st.PC += state.PCStep
	*decode = *fetch
	if fetch.Opcode == insts.OpHALT {
		fetch.HasInsn = false
	}
	return nil
}

// DecodeStage resolves source operands, detects load-use hazards, marks
// destination registers busy, and issues into execute (§4.3).
type DecodeStage struct {
	hazard *HazardUnit
}

// NewDecodeStage creates a decode stage.
func NewDecodeStage(hazard *HazardUnit) *DecodeStage {
	return &DecodeStage{hazard: hazard}
}

// Decode advances the decode stage by one cycle. It reads and writes decode
// in place and, on a successful issue, populates execute and clears
// decode.HasInsn. execSnapshot is the execute latch as it stood at the
// start of THIS cycle, before execute's own tick mutated or cleared it: the
// load-use hazard rule inspects "the instruction immediately ahead, sitting
// in the execute latch", which by the time Decode runs has already been
// consumed and cleared by this cycle's Execute call (reverse-order tick).
// Decode returns true if a load-use hazard forced a stall.
func (s *DecodeStage) Decode(st *state.ArchState, decode *StageLatch, execSnapshot *StageLatch, execute *StageLatch) bool {
	if !decode.HasInsn {
		return false
	}

	op := decode.Opcode
	decode.IsStalled = false

	readRs1 := insts.ReadsRs1(op)
	readRs2 := insts.ReadsRs2(op)

	if readRs1 && s.hazard.DetectLoadUseHazard(decode.Rs1, st.ValidBit[decode.Rs1], execSnapshot) {
		decode.IsStalled = true
	}
	if readRs2 && s.hazard.DetectLoadUseHazard(decode.Rs2, st.ValidBit[decode.Rs2], execSnapshot) {
		decode.IsStalled = true
	}

	if decode.IsStalled {
		// Leave decode's latch in place for retry; execute gets a bubble.
		execute.Clear()
		return true
	}

	if readRs1 {
		if st.ValidBit[decode.Rs1] {
			decode.Rs1Value = st.ForwardingBuffer[decode.Rs1]
		} else {
			decode.Rs1Value = st.Regs[decode.Rs1]
		}
	}
	if readRs2 {
		if st.ValidBit[decode.Rs2] {
			decode.Rs2Value = st.ForwardingBuffer[decode.Rs2]
		} else {
			decode.Rs2Value = st.Regs[decode.Rs2]
		}
	}

	// Producer-marking rule: mark destinations busy on successful issue.
	if insts.WritesRd(op) {
		st.MarkBusy(decode.Rd, decode.PC)
	}
	if insts.WritesRs1Post(op) {
		st.MarkBusy(decode.Rs1, decode.PC)
	}

	*execute = *decode
	decode.HasInsn = false
	return false
}

// ExecuteStage performs ALU operations, address calculation, branch/JUMP
// resolution, and publishes forwarded results (§4.4).
type ExecuteStage struct{}

// NewExecuteStage creates an execute stage.
func NewExecuteStage() *ExecuteStage {
	return &ExecuteStage{}
}

// Execute advances the execute stage by one cycle, writing into memory. It
// returns true if a branch or JUMP redirected the PC this cycle, so the
// tick driver can account for the flush. haltFetchDisabled reports whether
// a HALT has already disabled fetch, so a taken branch does not perversely
// re-enable it (O3).
func (s *ExecuteStage) Execute(st *state.ArchState, execute, memory, decode, fetch *StageLatch, haltFetchDisabled bool) (flushed bool) {
	if !execute.HasInsn {
		memory.Clear()
		return false
	}

	switch execute.Opcode {
	case insts.OpADD:
		execute.ResultBuffer = execute.Rs1Value + execute.Rs2Value
		s.publishAndSetZero(st, execute)
	case insts.OpSUB:
		execute.ResultBuffer = execute.Rs1Value - execute.Rs2Value
		s.publishAndSetZero(st, execute)
	case insts.OpMUL:
		execute.ResultBuffer = execute.Rs1Value * execute.Rs2Value
		s.publishAndSetZero(st, execute)
	case insts.OpDIV:
		if execute.Rs2Value == 0 {
			// O5: division by zero yields 0 and sets zero_flag, the
			// same as every other ALU op producing a zero result.
			execute.ResultBuffer = 0
		} else {
			execute.ResultBuffer = execute.Rs1Value / execute.Rs2Value
		}
		s.publishAndSetZero(st, execute)
	case insts.OpADDL:
		execute.ResultBuffer = execute.Rs1Value + execute.Imm
		s.publishAndSetZero(st, execute)
	case insts.OpSUBL:
		execute.ResultBuffer = execute.Rs1Value - execute.Imm
		s.publishAndSetZero(st, execute)
	case insts.OpAND:
		execute.ResultBuffer = execute.Rs1Value & execute.Rs2Value
		s.publishAndSetZero(st, execute)
	case insts.OpOR:
		execute.ResultBuffer = execute.Rs1Value | execute.Rs2Value
		s.publishAndSetZero(st, execute)
	case insts.OpEXOR:
		execute.ResultBuffer = execute.Rs1Value ^ execute.Rs2Value
		s.publishAndSetZero(st, execute)
	case insts.OpMOVC:
		execute.ResultBuffer = execute.Imm
		s.publishAndSetZero(st, execute)

	case insts.OpLOAD:
		execute.MemoryAddress = execute.Rs1Value + execute.Imm
	case insts.OpSTORE:
		execute.MemoryAddress = execute.Rs2Value + execute.Imm
	case insts.OpLDI:
		execute.MemoryAddress = execute.Rs1Value + execute.Imm
		execute.ResettingBuffer = execute.Rs1Value + state.PCStep
	case insts.OpSTI:
		execute.MemoryAddress = execute.Rs1Value + execute.Imm
		execute.ResettingBuffer = execute.Rs1Value + state.PCStep
		// O2: STI does not touch flags.

	case insts.OpCMP:
		st.ZeroFlag = execute.Rs1Value == execute.Rs2Value
		st.PosFlag = execute.Rs1Value > execute.Rs2Value

	case insts.OpBZ:
		flushed = s.maybeBranch(st, execute, decode, fetch, st.ZeroFlag, haltFetchDisabled)
	case insts.OpBNZ:
		flushed = s.maybeBranch(st, execute, decode, fetch, !st.ZeroFlag, haltFetchDisabled)
	case insts.OpBP:
		flushed = s.maybeBranch(st, execute, decode, fetch, st.PosFlag, haltFetchDisabled)
	case insts.OpBNP:
		flushed = s.maybeBranch(st, execute, decode, fetch, !st.PosFlag, haltFetchDisabled)

	case insts.OpJUMP:
		st.PC = execute.Rs1Value + execute.Imm
		st.FetchFromNextCycle = true
		decode.Clear()
		if !haltFetchDisabled {
			fetch.HasInsn = true
		}
		flushed = true

	case insts.OpNOP, insts.OpHALT:
		// No execute-stage work.
	}

	// HALT is not a normal op but still drains to memory/writeback in the
	// ordinary way so the tick driver observes it retiring.
	*memory = *execute
	execute.Clear()
	return flushed
}

func (s *ExecuteStage) publishAndSetZero(st *state.ArchState, execute *StageLatch) {
	st.Publish(execute.Rd, execute.ResultBuffer)
	st.ZeroFlag = execute.ResultBuffer == 0
}

func (s *ExecuteStage) maybeBranch(st *state.ArchState, execute, decode, fetch *StageLatch, taken bool, haltFetchDisabled bool) bool {
	if !taken {
		return false
	}
	st.PC = execute.PC + execute.Imm
	st.FetchFromNextCycle = true
	decode.Clear()
	// O3: a taken branch only re-enables fetch if HALT had not already
	// disabled it; otherwise a HALT/branch race would revive fetch after
	// HALT, which is not intended.
	if !haltFetchDisabled {
		fetch.HasInsn = true
	}
	return true
}

// MemoryStage performs data-memory load/store for memory-class
// instructions (§4.5).
type MemoryStage struct{}

// NewMemoryStage creates a memory stage.
func NewMemoryStage() *MemoryStage {
	return &MemoryStage{}
}

// Access advances the memory stage by one cycle, writing into writeback.
func (s *MemoryStage) Access(st *state.ArchState, memory, writeback *StageLatch) error {
	if !memory.HasInsn {
		writeback.Clear()
		return nil
	}

	switch memory.Opcode {
	case insts.OpLOAD:
		v, err := st.ReadMemory(memory.MemoryAddress)
		if err != nil {
			return err
		}
		memory.ResultBuffer = v
		st.Publish(memory.Rd, memory.ResultBuffer)
	case insts.OpSTORE:
		if err := st.WriteMemory(memory.MemoryAddress, memory.Rs1Value); err != nil {
			return err
		}
	case insts.OpLDI:
		v, err := st.ReadMemory(memory.MemoryAddress)
		if err != nil {
			return err
		}
		memory.ResultBuffer = v
		st.Publish(memory.Rd, memory.ResultBuffer)
	case insts.OpSTI:
		if err := st.WriteMemory(memory.MemoryAddress, memory.Rs2Value); err != nil {
			return err
		}
	}

	*writeback = *memory
	memory.Clear()
	return nil
}

// WritebackStage commits results to the register file, clears busy bits
// owned by this instruction, and counts retirements (§4.6).
type WritebackStage struct{}

// NewWritebackStage creates a writeback stage.
func NewWritebackStage() *WritebackStage {
	return &WritebackStage{}
}

// Writeback advances the writeback stage by one cycle. It returns true if
// the retiring instruction is HALT, signalling the tick driver to stop.
func (s *WritebackStage) Writeback(st *state.ArchState, writeback *StageLatch) (halted bool) {
	if !writeback.HasInsn {
		return false
	}

	switch writeback.Opcode {
	case insts.OpADD, insts.OpSUB, insts.OpMUL, insts.OpDIV, insts.OpADDL, insts.OpSUBL,
		insts.OpAND, insts.OpOR, insts.OpEXOR, insts.OpLOAD, insts.OpMOVC:
		st.Commit(writeback.Rd, writeback.ResultBuffer, writeback.PC)

	case insts.OpLDI:
		st.Commit(writeback.Rd, writeback.ResultBuffer, writeback.PC)
		// O4: always index by the register number (Rs1), never by the
		// register's runtime value.
		st.Commit(writeback.Rs1, writeback.ResettingBuffer, writeback.PC)

	case insts.OpSTI:
		st.Commit(writeback.Rs1, writeback.ResettingBuffer, writeback.PC)

	case insts.OpSTORE, insts.OpCMP, insts.OpNOP, insts.OpJUMP,
		insts.OpBZ, insts.OpBNZ, insts.OpBP, insts.OpBNP:
		// No register write.

	case insts.OpHALT:
		st.InsnCompleted++
		writeback.HasInsn = false
		return true
	}

	st.InsnCompleted++
	writeback.HasInsn = false
	return false
}
