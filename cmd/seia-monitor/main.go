package main

import "github.com/pfrederiksen/seia-monitor/internal/cli"

func main() {
	cli.Execute()
}
