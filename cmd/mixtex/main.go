package main

import "github.com/kennethnrk/mixtex-ocr/internal/cli"

func main() {
	cli.Execute()
}
