package main

import "github.com/example/courtwatch/cmd"

func main() {
	cmd.Execute()
}
