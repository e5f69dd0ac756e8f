// Package loader parses a textual APEX assembly program into the dense
// instruction slice the core treats as code memory (§6.1).
package loader

import (
	"bufio"
	"fmt"
	"os"
	"strconv"
	"strings"

	"github.com/apexkit/apexsim/insts"
	"github.com/apexkit/apexsim/state"
)

// Load reads filename and returns its instructions as a dense slice indexed
// by (pc-4000)/4, the layout create_code_memory produces. A comment line
// begins with '#' or '//'; blank lines are skipped.
func Load(filename string) ([]insts.Instruction, error) {
	f, err := os.Open(filename)
	if err != nil {
		return nil, fmt.Errorf("loader: %w", err)
	}
	defer f.Close()

	var code []insts.Instruction
	scanner := bufio.NewScanner(f)
	lineNo := 0
	for scanner.Scan() {
		lineNo++
		line := strings.TrimSpace(scanner.Text())
		if line == "" || strings.HasPrefix(line, "#") || strings.HasPrefix(line, "//") {
			continue
		}
		inst, err := parseLine(line)
		if err != nil {
			return nil, fmt.Errorf("loader: %s:%d: %w", filename, lineNo, err)
		}
		code = append(code, inst)
	}
	if err := scanner.Err(); err != nil {
		return nil, fmt.Errorf("loader: %w", err)
	}
	if len(code) == 0 {
		return nil, fmt.Errorf("loader: %s contains no instructions", filename)
	}
	return code, nil
}

// parseLine decodes one comma-separated instruction line, e.g.
// "ADD,R3,R1,R2", "MOVC,R1,#5", "STI,R2,R1,#0". Operand order follows the
// source's own print_instruction layout, which mirrors its textual input
// format: STORE takes the value register before the base register; STI
// takes rs2 (value) before rs1 (base).
func parseLine(line string) (insts.Instruction, error) {
	fields := strings.Split(line, ",")
	for i := range fields {
		fields[i] = strings.TrimSpace(fields[i])
	}
	mnemonic := strings.ToUpper(fields[0])
	args := fields[1:]

	op, err := insts.ParseOpcode(mnemonic)
	if err != nil {
		return insts.Instruction{}, err
	}

	inst := insts.Instruction{Opcode: op, Mnemonic: mnemonic}

	switch op {
	case insts.OpADD, insts.OpSUB, insts.OpMUL, insts.OpDIV, insts.OpAND, insts.OpOR, insts.OpEXOR:
		if err := expect(mnemonic, args, 3); err != nil {
			return inst, err
		}
		if inst.Rd, err = parseReg(args[0]); err != nil {
			return inst, err
		}
		if inst.Rs1, err = parseReg(args[1]); err != nil {
			return inst, err
		}
		if inst.Rs2, err = parseReg(args[2]); err != nil {
			return inst, err
		}

	case insts.OpADDL, insts.OpSUBL, insts.OpLOAD, insts.OpLDI:
		if err := expect(mnemonic, args, 3); err != nil {
			return inst, err
		}
		if inst.Rd, err = parseReg(args[0]); err != nil {
			return inst, err
		}
		if inst.Rs1, err = parseReg(args[1]); err != nil {
			return inst, err
		}
		if inst.Imm, err = parseImm(args[2]); err != nil {
			return inst, err
		}

	case insts.OpSTORE:
		if err := expect(mnemonic, args, 3); err != nil {
			return inst, err
		}
		if inst.Rs1, err = parseReg(args[0]); err != nil { // value register
			return inst, err
		}
		if inst.Rs2, err = parseReg(args[1]); err != nil { // base register
			return inst, err
		}
		if inst.Imm, err = parseImm(args[2]); err != nil {
			return inst, err
		}

	case insts.OpSTI:
		if err := expect(mnemonic, args, 3); err != nil {
			return inst, err
		}
		if inst.Rs2, err = parseReg(args[0]); err != nil { // value register
			return inst, err
		}
		if inst.Rs1, err = parseReg(args[1]); err != nil { // base register
			return inst, err
		}
		if inst.Imm, err = parseImm(args[2]); err != nil {
			return inst, err
		}

	case insts.OpCMP:
		if err := expect(mnemonic, args, 2); err != nil {
			return inst, err
		}
		if inst.Rs1, err = parseReg(args[0]); err != nil {
			return inst, err
		}
		if inst.Rs2, err = parseReg(args[1]); err != nil {
			return inst, err
		}

	case insts.OpMOVC:
		if err := expect(mnemonic, args, 2); err != nil {
			return inst, err
		}
		if inst.Rd, err = parseReg(args[0]); err != nil {
			return inst, err
		}
		if inst.Imm, err = parseImm(args[1]); err != nil {
			return inst, err
		}

	case insts.OpBZ, insts.OpBNZ, insts.OpBP, insts.OpBNP:
		if err := expect(mnemonic, args, 1); err != nil {
			return inst, err
		}
		if inst.Imm, err = parseImm(args[0]); err != nil {
			return inst, err
		}

	case insts.OpJUMP:
		if err := expect(mnemonic, args, 2); err != nil {
			return inst, err
		}
		if inst.Rs1, err = parseReg(args[0]); err != nil {
			return inst, err
		}
		if inst.Imm, err = parseImm(args[1]); err != nil {
			return inst, err
		}

	case insts.OpNOP, insts.OpHALT:
		if err := expect(mnemonic, args, 0); err != nil {
			return inst, err
		}

	default:
		return inst, fmt.Errorf("unsupported opcode %q", mnemonic)
	}

	return inst, nil
}

func expect(mnemonic string, args []string, n int) error {
	if len(args) != n {
		return fmt.Errorf("%s expects %d operand(s), got %d", mnemonic, n, len(args))
	}
	return nil
}

func parseReg(tok string) (int, error) {
	if len(tok) < 2 || (tok[0] != 'R' && tok[0] != 'r') {
		return 0, fmt.Errorf("malformed register operand %q", tok)
	}
	n, err := strconv.Atoi(tok[1:])
	if err != nil {
		return 0, fmt.Errorf("malformed register operand %q: %w", tok, err)
	}
	if n < 0 || n >= state.NumRegs {
		return 0, fmt.Errorf("register operand %q out of range [0,%d)", tok, state.NumRegs)
	}
	return n, nil
}

func parseImm(tok string) (int32, error) {
	if len(tok) < 1 || tok[0] != '#' {
		return 0, fmt.Errorf("malformed immediate operand %q", tok)
	}
	n, err := strconv.ParseInt(tok[1:], 10, 32)
	if err != nil {
		return 0, fmt.Errorf("malformed immediate operand %q: %w", tok, err)
	}
	return int32(n), nil
}
