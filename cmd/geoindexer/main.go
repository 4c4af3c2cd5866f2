package main

import "github.com/mvp-joe/geoindexer/internal/cli"

func main() {
	cli.Execute()
}
