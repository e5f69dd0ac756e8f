// Package insts defines the APEX instruction set: a closed enumeration of
// opcodes and the static instruction representation produced by the loader
// and consumed by the pipeline.
package insts

import "fmt"

// Opcode is the closed set of APEX operations.
type Opcode uint8

// APEX opcodes.
const (
	OpUnknown Opcode = iota

	// Arithmetic, register-register.
	OpADD
	OpSUB
	OpMUL
	OpDIV

	// Arithmetic, register-immediate.
	OpADDL
	OpSUBL

	// Logic.
	OpAND
	OpOR
	OpEXOR

	// Data movement.
	OpMOVC
	OpLOAD
	OpSTORE
	OpLDI
	OpSTI

	// Comparison.
	OpCMP

	// Control.
	OpBZ
	OpBNZ
	OpBP
	OpBNP
	OpJUMP
	OpNOP
	OpHALT
)

// mnemonics maps each opcode to its textual mnemonic, used both by the
// loader (parsing) and by debug printing (formatting).
var mnemonics = map[Opcode]string{
	OpADD:   "ADD",
	OpSUB:   "SUB",
	OpMUL:   "MUL",
	OpDIV:   "DIV",
	OpADDL:  "ADDL",
	OpSUBL:  "SUBL",
	OpAND:   "AND",
	OpOR:    "OR",
	OpEXOR:  "EXOR",
	OpMOVC:  "MOVC",
	OpLOAD:  "LOAD",
	OpSTORE: "STORE",
	OpLDI:   "LDI",
	OpSTI:   "STI",
	OpCMP:   "CMP",
	OpBZ:    "BZ",
	OpBNZ:   "BNZ",
	OpBP:    "BP",
	OpBNP:   "BNP",
	OpJUMP:  "JUMP",
	OpNOP:   "NOP",
	OpHALT:  "HALT",
}

var mnemonicToOpcode map[string]Opcode

func init() {
	mnemonicToOpcode = make(map[string]Opcode, len(mnemonics))
	for op, mnemonic := range mnemonics {
		mnemonicToOpcode[mnemonic] = op
	}
}

// String returns the mnemonic for an opcode, or "???" if unknown.
func (op Opcode) String() string {
	if m, ok := mnemonics[op]; ok {
		return m
	}
	return "???"
}

// ParseOpcode resolves a textual mnemonic to its Opcode.
func ParseOpcode(mnemonic string) (Opcode, error) {
	op, ok := mnemonicToOpcode[mnemonic]
	if !ok {
		return OpUnknown, fmt.Errorf("insts: unknown mnemonic %q", mnemonic)
	}
	return op, nil
}

// Instruction is the static, loader-produced representation of one APEX
// instruction. It never changes after the loader builds it (I4).
type Instruction struct {
	Opcode Opcode
	// Mnemonic is retained verbatim for debug printing even though Opcode
	// is authoritative for every behavioral decision (see REDESIGN FLAGS:
	// classify via the enum, never via string comparison).
	Mnemonic string
	Rd       int
	Rs1      int
	Rs2      int
	Imm      int32
}

// IsLoadClass reports whether op is a load-class opcode (LOAD or LDI). This
// is the single predicate the whole pipeline uses to detect load-use
// hazards; nothing compares mnemonics.
func IsLoadClass(op Opcode) bool {
	return op == OpLOAD || op == OpLDI
}

// WritesRd reports whether op, on its own, writes a result into Rd. STORE
// and CMP are excluded (non-writing); STI writes only Rs1 (see WritesRs1Post)
// and is excluded here.
func WritesRd(op Opcode) bool {
	switch op {
	case OpADD, OpSUB, OpMUL, OpDIV, OpADDL, OpSUBL, OpAND, OpOR, OpEXOR,
		OpMOVC, OpLOAD, OpLDI:
		return true
	default:
		return false
	}
}

// WritesRs1Post reports whether op post-increments Rs1 and therefore marks
// Rs1 as a destination register (LDI, STI). LDI also writes Rd (see
// WritesRd); STI writes only Rs1.
func WritesRs1Post(op Opcode) bool {
	return op == OpLDI || op == OpSTI
}

// IsBranchClass reports whether op is a conditional branch evaluated from
// the flag bits (BZ, BNZ, BP, BNP).
func IsBranchClass(op Opcode) bool {
	switch op {
	case OpBZ, OpBNZ, OpBP, OpBNP:
		return true
	default:
		return false
	}
}

// ReadsRs1 reports whether op consumes Rs1 as a source operand in decode.
func ReadsRs1(op Opcode) bool {
	switch op {
	case OpADD, OpSUB, OpMUL, OpDIV, OpADDL, OpSUBL, OpAND, OpOR, OpEXOR,
		OpLOAD, OpLDI, OpSTORE, OpSTI, OpCMP, OpJUMP:
		return true
	default:
		return false
	}
}

// ReadsRs2 reports whether op consumes Rs2 as a source operand in decode.
func ReadsRs2(op Opcode) bool {
	switch op {
	case OpADD, OpSUB, OpMUL, OpDIV, OpAND, OpOR, OpEXOR, OpSTORE, OpSTI, OpCMP:
		return true
	default:
		return false
	}
}
