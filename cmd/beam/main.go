package main

import "github.com/dkeye/Beam/internal/cli"

func main() {
	cli.Execute()
}
