package main

import "newsrag/internal/cli"

func main() {
	cli.Execute()
}
