// Command grps is the entry point for the model-serving gateway core.
package main

import "github.com/nkazachenko/grps-core-go/cmd"

func main() {
	cmd.Execute()
}
