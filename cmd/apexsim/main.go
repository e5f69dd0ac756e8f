// Command apexsim is the command-line driver for the APEX pipeline
// simulator (§6.3).
package main

import (
	"fmt"
	"os"
	"strconv"

	"github.com/apexkit/apexsim/timing/core"
)

func main() {
	os.Exit(run(os.Args[1:]))
}

func run(args []string) int {
	if len(args) != 3 {
		fmt.Fprintf(os.Stderr, "usage: apexsim <input_file> <mode> <count>\n")
		fmt.Fprintf(os.Stderr, "modes: simulate, display, single_step, showmem\n")
		return 1
	}

	filename, mode := args[0], args[1]
	count, err := strconv.Atoi(args[2])
	if err != nil {
		fmt.Fprintf(os.Stderr, "apexsim: count must be an integer: %v\n", err)
		return 1
	}

	c, err := core.Init(filename, mode, count)
	if err != nil {
		fmt.Fprintf(os.Stderr, "apexsim: %v\n", err)
		return 1
	}

	stats, err := c.Run()
	if err != nil {
		fmt.Fprintf(os.Stderr, "apexsim: %v\n", err)
		return 1
	}

	if core.Mode(mode) == core.ModeShowMem {
		v, err := c.ShowMemory()
		if err != nil {
			fmt.Fprintf(os.Stderr, "apexsim: %v\n", err)
			return 1
		}
		fmt.Printf("memory[%d] = %d\n", count, v)
	}

	fmt.Printf("cycles=%d instructions=%d stalls=%d branches=%d flushes=%d\n",
		stats.Cycles, stats.Instructions, stats.Stalls, stats.Branches, stats.Flushes)

	c.Stop()
	return 0
}
