package main

import "github.com/mesadeayuda/conversa/cmd"

func main() {
	cmd.Execute()
}
