package main

import "github.com/killallgit/stak/cmd"

func main() {
	cmd.Execute()
}
