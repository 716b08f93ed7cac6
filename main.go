package main

import (
	"github.com/nd-schmidt/pimonitor/cmd"
)

func main() {
	cmd.Execute()
}
