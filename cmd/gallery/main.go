package main

import "github.com/mediaembed/gallery/internal/cli"

func main() {
	cli.Execute()
}
