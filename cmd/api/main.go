package main

import "codex/api/internal/cli"

func main() {
	cli.Execute()
}
