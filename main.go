package main

import (
	"github.com/skirt-explorer/skirt-explorer/cmd"
)

func main() {
	cmd.Execute()
}
