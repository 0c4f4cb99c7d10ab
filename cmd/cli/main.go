package main

import "github.com/x404xx/rescore/pkg/cli"

func main() {
	cli.Execute()
}
