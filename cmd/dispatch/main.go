package main

import "github.com/contabix/dispatch/cmd/dispatch/commands"

func main() {
	commands.Execute()
}
