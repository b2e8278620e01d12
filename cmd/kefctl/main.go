package main

import "github.com/strefethen/kef-hub-go/internal/cli"

func main() {
	cli.Execute()
}
