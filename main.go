// The main package for the chairwatch executable.
package main

import "github.com/chairwatch/chairwatch/cmd"

func main() {
	cmd.Execute()
}
