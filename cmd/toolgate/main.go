// Command toolgate is an authorizing gateway for MCP tool calls.
package main

import "github.com/Sentinel-Gate/toolgate/cmd/toolgate/cmd"

func main() {
	cmd.Execute()
}
