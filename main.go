// Command reserve is the entry point for the reserve CLI.
package main

import "github.com/derickschaefer/reserve/cmd"

func main() {
	cmd.Execute()
}
