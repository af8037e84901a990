package main

import "github.com/firezap/firezap/cmd"

func main() {
	cmd.Execute()
}
