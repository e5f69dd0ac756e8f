// Command apexsim (root stub) points at the real CLI entry point.
//
// For the full driver, use: go run ./cmd/apexsim <input_file> <mode> <count>
package main

import "fmt"

func main() {
	fmt.Println("apexsim - APEX 5-stage pipeline simulator")
	fmt.Println("")
	fmt.Println("Usage: apexsim <input_file> <mode> <count>")
	fmt.Println("modes: simulate, display, single_step, showmem")
	fmt.Println("")
	fmt.Println("Run 'go run ./cmd/apexsim <input_file> <mode> <count>' for the full CLI.")
}
