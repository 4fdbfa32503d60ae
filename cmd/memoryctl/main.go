// Command memoryctl is the operator CLI for inspecting and repairing a
// memoryd storage backend directly.
package main

import "github.com/hearthlabs/memoryd/internal/cli"

func main() {
	cli.Execute()
}
