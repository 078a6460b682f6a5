package main

import "github.com/LouisBoudreau/licensed/cmd"

func main() {
	cmd.Execute()
}
