package main

import "github.com/itsmostafa/goverticle/cmd"

func main() {
	cmd.Execute()
}
