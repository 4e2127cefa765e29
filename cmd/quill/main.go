package main

import (
	"github.com/ssargent/quill/cmd/quill/cmd"
)

func main() {
	cmd.Execute()
}
