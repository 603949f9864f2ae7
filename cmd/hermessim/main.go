// Command hermessim runs the trace-driven out-of-order memory-hierarchy
// simulator (spec §6).
package main

func main() {
	Execute()
}
