package main

import "Mopro-Bridge/cmd/moproctl/commands"

func main() {
	commands.Execute()
}
