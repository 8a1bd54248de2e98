package main

import "github.com/distill-dev/distill/cmd/distill/cli"

func main() {
	cli.Run()
}
