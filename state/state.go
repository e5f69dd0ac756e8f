// Package state holds the APEX architectural state: the program counter,
// register file, the busy/forwarding/owner tables that back hazard
// detection, the condition flags, and data memory. It is process-lifetime
// state created at init and torn down at stop (see the core package).
package state

import "fmt"

// NumRegs is the size of the integer register file.
const NumRegs = 16

// DataMemorySize is the number of addressable int32 cells in data memory.
const DataMemorySize = 4096

// InitialPC is the program counter value of the first fetched instruction;
// code memory is indexed by (pc-InitialPC)/4.
const InitialPC int32 = 4000

// PCStep is the byte distance between consecutive instruction addresses.
const PCStep int32 = 4

// ArchState is the full architectural state of one APEX CPU. Stage logic in
// timing/pipeline reads and writes it; nothing about it is pipeline-private.
type ArchState struct {
	// PC is the address of the next instruction to fetch.
	PC int32

	// Regs holds the 16 architectural integer registers.
	Regs [NumRegs]int32

	// ValidBit[r] is true while register r is busy: some in-flight
	// instruction has not yet committed its write to r (I1).
	ValidBit [NumRegs]bool

	// ForwardingBuffer[r] holds the most recently published, not-yet-
	// committed value for register r (I2).
	ForwardingBuffer [NumRegs]int32

	// FData[r] is the PC of the instruction that most recently marked
	// register r busy. Only that instruction's writeback may clear
	// ValidBit[r] (P3).
	FData [NumRegs]int32

	// ZeroFlag and PosFlag are the condition bits consumed by the branch
	// opcodes (BZ, BNZ, BP, BNP). CMP writes both; every arithmetic/logic
	// op and MOVC writes ZeroFlag only (see O2).
	ZeroFlag bool
	PosFlag  bool

	// DataMemory is indexed directly by effective address (the original
	// apex_cpu.c indexes data_memory[] the same way: one int32 per
	// address unit, not a byte-packed store). Documented in DESIGN.md.
	DataMemory [DataMemorySize]int32

	// FetchFromNextCycle is a one-shot signal set by execute on a taken
	// branch/JUMP: it suppresses exactly one fetch tick so the redirected
	// PC is the one actually fetched.
	FetchFromNextCycle bool

	// Clock counts cycles advanced by the tick driver.
	Clock uint64
	// InsnCompleted counts instructions retired at writeback (P4).
	InsnCompleted uint64
}

// New returns a zero-initialised architectural state with PC at
// InitialPC, as apex_cpu_init does.
func New() *ArchState {
	return &ArchState{PC: InitialPC}
}

// MarkBusy records that the instruction at ownerPC has claimed register r
// as a destination (decode's producer-marking rule).
func (s *ArchState) MarkBusy(r int, ownerPC int32) {
	if r < 0 || r >= NumRegs {
		return
	}
	s.ValidBit[r] = true
	s.FData[r] = ownerPC
}

// Publish writes value into register r's forwarding buffer, making it
// visible to decode before the owning instruction commits at writeback.
func (s *ArchState) Publish(r int, value int32) {
	if r < 0 || r >= NumRegs {
		return
	}
	s.ForwardingBuffer[r] = value
}

// Commit writes value into regs[r] and clears ValidBit[r] only if FData[r]
// still names ownerPC — a younger writer's busy-mark must survive (P3, O4:
// always indexed by register number, never by a register's runtime value).
func (s *ArchState) Commit(r int, value int32, ownerPC int32) {
	if r < 0 || r >= NumRegs {
		return
	}
	s.Regs[r] = value
	if s.FData[r] == ownerPC {
		s.ValidBit[r] = false
	}
}

// ReadMemory reads data memory at addr, the fixed int32-per-address layout
// apex_cpu.c's data_memory[] uses.
func (s *ArchState) ReadMemory(addr int32) (int32, error) {
	if addr < 0 || int(addr) >= DataMemorySize {
		return 0, fmt.Errorf("state: data memory address %d out of range [0,%d)", addr, DataMemorySize)
	}
	return s.DataMemory[addr], nil
}

// WriteMemory writes value to data memory at addr.
func (s *ArchState) WriteMemory(addr int32, value int32) error {
	if addr < 0 || int(addr) >= DataMemorySize {
		return fmt.Errorf("state: data memory address %d out of range [0,%d)", addr, DataMemorySize)
	}
	s.DataMemory[addr] = value
	return nil
}

// CodeIndex converts a PC value into a code-memory index (§3: code memory
// is indexed by (pc-4000)/4).
func CodeIndex(pc int32) int {
	return int((pc - InitialPC) / PCStep)
}
