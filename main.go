package main

import "github.com/micheldegeofroy/unidown/cmd"

func main() {
	cmd.Execute()
}
