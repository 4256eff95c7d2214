package main

import (
	"pearl-sniper/internal/cli"
)

func main() {
	cli.Execute()
}
