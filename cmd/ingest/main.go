package main

import "github.com/vietddude/blockingest/internal/cli"

func main() {
	cli.Execute()
}
