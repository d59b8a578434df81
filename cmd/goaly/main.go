package main

import "github.com/goaly/internal/cli"

func main() {
	cli.Execute()
}
