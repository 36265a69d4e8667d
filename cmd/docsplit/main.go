package main

import (
	"github.com/dgallion1/docsplit/internal/cli"
)

func main() {
	cli.Execute()
}
