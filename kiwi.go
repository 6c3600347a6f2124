package main

import (
	"github.com/priyxstudio/kiwi/cmd"
)

func main() {
	cmd.Execute()
}
