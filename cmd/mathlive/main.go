package main

import "github.com/SorenPirat/matematik-platform/cmd"

func main() {
	cmd.Execute()
}
