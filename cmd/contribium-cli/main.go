package main

import "github.com/contribium/contribium/internal/cli"

func main() {
	cli.Execute()
}
