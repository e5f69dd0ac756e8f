package pipeline

import "github.com/apexkit/apexsim/insts"

// HazardUnit detects load-use data hazards against the register validity
// table and computes the resulting stall/flush actions (§4.1, §4.3).
type HazardUnit struct{}

// NewHazardUnit creates a new hazard detection unit.
func NewHazardUnit() *HazardUnit {
	return &HazardUnit{}
}

// DetectLoadUseHazard implements the load-use hazard rule of §4.3: a source
// register is unresolvable this cycle if it is currently busy (validBit)
// AND the instruction immediately ahead, sitting in the execute latch, is a
// LOAD-class producer of that same register.
func (h *HazardUnit) DetectLoadUseHazard(reg int, validBit bool, execute *StageLatch) bool {
	if !validBit {
		return false
	}
	if !execute.HasInsn {
		return false
	}
	if !insts.IsLoadClass(execute.Opcode) {
		return false
	}
	return execute.Rd == reg
}

// StallResult indicates what pipeline actions a cycle's hazard and control
// decisions require.
type StallResult struct {
	// StallDecode means decode should retain its latch and retry next
	// cycle rather than issuing into execute.
	StallDecode bool
	// Flush means a taken branch/JUMP must squash the fetch and decode
	// latches that held younger, now-invalid instructions.
	Flush bool
}

// ComputeStalls combines the load-use hazard outcome with a taken-branch
// signal from execute into the stage actions the tick driver applies.
func (h *HazardUnit) ComputeStalls(loadUseHazard bool, branchTaken bool) StallResult {
	result := StallResult{}

	if loadUseHazard {
		result.StallDecode = true
	}

	if branchTaken {
		result.Flush = true
	}

	return result
}
