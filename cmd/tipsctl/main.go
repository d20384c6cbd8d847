package main

import "megatips/internal/cli"

func main() {
	cli.Execute()
}
