package main

import "clipdrop/cmd"

func main() {
	cmd.Execute()
}
