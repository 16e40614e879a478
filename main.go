// The main package for the regvelocity executable.
package main

import "github.com/regwatch/regvelocity/cmd"

func main() {
	cmd.Execute()
}
