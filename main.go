package main

import "github.com/bramblemesh/bramble/cmd"

func main() {
	cmd.Execute()
}
