package main

import "github.com/LeJamon/goXRPLtracker/internal/cli"

func main() {
	cli.Execute()
}
