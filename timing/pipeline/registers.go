package pipeline

import "github.com/apexkit/apexsim/insts"

// StageLatch is the per-stage record of one in-flight instruction and its
// working values (§3 Stage Latch). Each pipeline stage owns exactly one
// StageLatch (I3): Fetch, Decode, Execute, Memory, Writeback.
type StageLatch struct {
	PC       int32
	Opcode   insts.Opcode
	Mnemonic string
	Rs1      int
	Rs2      int
	Rd       int
	Imm      int32

	Rs1Value int32
	Rs2Value int32

	ResultBuffer    int32
	ResettingBuffer int32
	MemoryAddress   int32

	// HasInsn reports whether this latch is occupied. A false HasInsn is
	// a bubble (see GLOSSARY).
	HasInsn bool
	// IsStalled records that decode could not advance this cycle and is
	// retrying the same instruction next cycle.
	IsStalled bool
}

// Clear resets the latch to an empty bubble.
func (s *StageLatch) Clear() {
	*s = StageLatch{}
}

// FromInstruction populates a fresh latch from a static instruction fetched
// at pc. HasInsn is set; IsStalled is left at its current value since a
// stalled latch is re-populated from itself, not a fresh fetch.
func (s *StageLatch) FromInstruction(pc int32, inst insts.Instruction) {
	s.PC = pc
	s.Opcode = inst.Opcode
	s.Mnemonic = inst.Mnemonic
	s.Rs1 = inst.Rs1
	s.Rs2 = inst.Rs2
	s.Rd = inst.Rd
	s.Imm = inst.Imm
	s.HasInsn = true
}
