package pipeline_test

import (
	. "github.com/onsi/ginkgo/v2"
	. "github.com/onsi/gomega"

	"github.com/apexkit/apexsim/insts"
	"github.com/apexkit/apexsim/state"
	"github.com/apexkit/apexsim/timing/pipeline"
)

func op(opcode insts.Opcode, rd, rs1, rs2 int, imm int32) insts.Instruction {
	return insts.Instruction{Opcode: opcode, Mnemonic: opcode.String(), Rd: rd, Rs1: rs1, Rs2: rs2, Imm: imm}
}

func runToHalt(st *state.ArchState, code []insts.Instruction) (*pipeline.Pipeline, pipeline.Stats) {
	p := pipeline.New(st, code)
	stats, err := p.Run(10000)
	ExpectWithOffset(1, err).NotTo(HaveOccurred())
	ExpectWithOffset(1, p.Halted()).To(BeTrue())
	return p, stats
}

var _ = Describe("Pipeline end-to-end", func() {
	Describe("straight-line arithmetic", func() {
		It("computes R3 = R1 + R2 and retires every instruction", func() {
			st := state.New()
			code := []insts.Instruction{
				op(insts.OpMOVC, 1, 0, 0, 5),
				op(insts.OpMOVC, 2, 0, 0, 7),
				op(insts.OpADD, 3, 1, 2, 0),
				op(insts.OpHALT, 0, 0, 0, 0),
			}
			_, stats := runToHalt(st, code)
			Expect(st.Regs[1]).To(Equal(int32(5)))
			Expect(st.Regs[2]).To(Equal(int32(7)))
			Expect(st.Regs[3]).To(Equal(int32(12)))
			Expect(st.ZeroFlag).To(BeFalse())
			Expect(stats.Instructions).To(Equal(uint64(4)))
		})
	})

	Describe("load-use hazard", func() {
		It("stalls the consumer one cycle behind a LOAD producer", func() {
			st := state.New()
			code := []insts.Instruction{
				op(insts.OpMOVC, 1, 0, 0, 100), // R1 = base address
				op(insts.OpMOVC, 4, 0, 0, 5),   // R4 = value to store
				op(insts.OpSTORE, 0, 4, 1, 0),  // memory[R1(addr)] = R4(value)
				op(insts.OpLOAD, 2, 1, 0, 0),   // R2 = memory[R1]
				op(insts.OpADD, 3, 2, 1, 0),    // load-use on R2
				op(insts.OpHALT, 0, 0, 0, 0),
			}
			_, stats := runToHalt(st, code)
			Expect(st.Regs[2]).To(Equal(int32(5)))
			Expect(st.Regs[3]).To(Equal(int32(105)))
			Expect(stats.Stalls).To(BeNumerically(">=", 1))
			Expect(stats.Instructions).To(Equal(uint64(6)))
		})
	})

	Describe("taken branch flush", func() {
		It("squashes the fetched successor and excludes it from retirement", func() {
			st := state.New()
			code := []insts.Instruction{
				op(insts.OpMOVC, 1, 0, 0, 0),
				op(insts.OpMOVC, 2, 0, 0, 0),
				op(insts.OpADD, 3, 1, 2, 0),  // R3 = 0, zero_flag = true
				op(insts.OpBZ, 0, 0, 0, 8),   // pc(4012) + 8 = 4020
				op(insts.OpMOVC, 4, 0, 0, 99), // squashed, at pc 4016
				op(insts.OpMOVC, 5, 0, 0, 77), // taken target, at pc 4020
				op(insts.OpHALT, 0, 0, 0, 0),
			}
			_, stats := runToHalt(st, code)
			Expect(st.Regs[4]).To(Equal(int32(0)), "squashed MOVC must never write R4")
			Expect(st.Regs[5]).To(Equal(int32(77)))
			Expect(stats.Branches).To(Equal(uint64(1)))
			Expect(stats.Instructions).To(Equal(uint64(6)))
		})
	})

	Describe("forwarding path", func() {
		It("lets a back-to-back ALU consumer read the forwarded result without stalling", func() {
			st := state.New()
			code := []insts.Instruction{
				op(insts.OpMOVC, 1, 0, 0, 3),
				op(insts.OpMOVC, 2, 0, 0, 4),
				op(insts.OpADD, 3, 1, 2, 0), // R3 = 7
				op(insts.OpADD, 4, 3, 1, 0), // R4 = 7 + 3, forwarded
				op(insts.OpHALT, 0, 0, 0, 0),
			}
			_, stats := runToHalt(st, code)
			Expect(st.Regs[3]).To(Equal(int32(7)))
			Expect(st.Regs[4]).To(Equal(int32(10)))
			Expect(stats.Stalls).To(Equal(uint64(0)))
		})
	})

	Describe("LDI post-increment", func() {
		It("loads rd and advances rs1, clearing both busy bits", func() {
			st := state.New()
			Expect(st.WriteMemory(40, 42)).To(Succeed())
			code := []insts.Instruction{
				op(insts.OpMOVC, 1, 0, 0, 40),
				op(insts.OpLDI, 2, 1, 0, 0),
				op(insts.OpHALT, 0, 0, 0, 0),
			}
			_, _ = runToHalt(st, code)
			Expect(st.Regs[2]).To(Equal(int32(42)))
			Expect(st.Regs[1]).To(Equal(int32(44)))
			Expect(st.ValidBit[1]).To(BeFalse())
			Expect(st.ValidBit[2]).To(BeFalse())
		})
	})

	Describe("JUMP control", func() {
		It("redirects pc and skips the squashed block", func() {
			st := state.New()
			code := []insts.Instruction{
				op(insts.OpMOVC, 1, 0, 0, 4016), // target: the MOVC R3 instruction
				op(insts.OpJUMP, 0, 1, 0, 0),
				op(insts.OpMOVC, 2, 0, 0, 99), // squashed, pc 4008
				op(insts.OpHALT, 0, 0, 0, 0),  // never fetched, pc 4012
				op(insts.OpMOVC, 3, 0, 0, 7),  // jump target, pc 4016
				op(insts.OpHALT, 0, 0, 0, 0),
			}
			_, stats := runToHalt(st, code)
			Expect(st.Regs[2]).To(Equal(int32(0)))
			Expect(st.Regs[3]).To(Equal(int32(7)))
			Expect(stats.Flushes).To(BeNumerically(">=", 1))
		})
	})

	Describe("division by zero (O5)", func() {
		It("yields a zero result and sets zero_flag deterministically", func() {
			st := state.New()
			code := []insts.Instruction{
				op(insts.OpMOVC, 1, 0, 0, 0),
				op(insts.OpMOVC, 2, 0, 0, 5),
				op(insts.OpDIV, 3, 2, 1, 0),
				op(insts.OpHALT, 0, 0, 0, 0),
			}
			_, _ = runToHalt(st, code)
			Expect(st.Regs[3]).To(Equal(int32(0)))
			Expect(st.ZeroFlag).To(BeTrue())
		})
	})

	Describe("STI leaves flags untouched (O2)", func() {
		It("does not let STI clobber flags set by a preceding CMP", func() {
			st := state.New()
			code := []insts.Instruction{
				op(insts.OpMOVC, 1, 0, 0, 40),
				op(insts.OpMOVC, 2, 0, 0, 9),
				op(insts.OpCMP, 0, 1, 2, 0), // zero_flag=false, pos_flag=true
				op(insts.OpSTI, 0, 1, 2, 0), // stores 9 at memory[40], R1 += 4
				op(insts.OpHALT, 0, 0, 0, 0),
			}
			_, _ = runToHalt(st, code)
			Expect(st.ZeroFlag).To(BeFalse())
			Expect(st.PosFlag).To(BeTrue())
			Expect(st.Regs[1]).To(Equal(int32(44)))
			v, err := st.ReadMemory(40)
			Expect(err).NotTo(HaveOccurred())
			Expect(v).To(Equal(int32(9)))
		})
	})

	Describe("busy-bit exclusivity (P1)", func() {
		It("leaves no busy bits set once every in-flight writer has retired", func() {
			st := state.New()
			code := []insts.Instruction{
				op(insts.OpMOVC, 1, 0, 0, 1),
				op(insts.OpMOVC, 2, 0, 0, 2),
				op(insts.OpADD, 3, 1, 2, 0),
				op(insts.OpSUB, 4, 3, 1, 0),
				op(insts.OpHALT, 0, 0, 0, 0),
			}
			_, _ = runToHalt(st, code)
			for i := 0; i < state.NumRegs; i++ {
				Expect(st.ValidBit[i]).To(BeFalse(), "register %d should not be left busy", i)
			}
		})
	})

	Describe("fatal fall-off (O1)", func() {
		It("errors when pc runs past the end of code memory without a HALT", func() {
			st := state.New()
			code := []insts.Instruction{
				op(insts.OpMOVC, 1, 0, 0, 1),
			}
			p := pipeline.New(st, code)
			_, err := p.Run(10000)
			Expect(err).To(HaveOccurred())
		})
	})
})
