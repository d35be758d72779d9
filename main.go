package main

import "github.com/cjcormack/lighting7-sub001/cmd"

func main() {
	cmd.Execute()
}
