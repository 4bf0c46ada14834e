// Command aiqa plans, executes and validates mobile UI test commands.
package main

import "github.com/devicelab-dev/aiqa-agent/pkg/cli"

func main() {
	cli.Execute()
}
