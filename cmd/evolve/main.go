package main

import (
	"fmt"
	"os"

	"github.com/logrusorgru/aurora/v3"

	"github.com/denismitr/evolve/internal/cli"
)

func main() {
	if err := cli.NewRootCmd(os.Stdout).Execute(); err != nil {
		fmt.Println(aurora.Red("evolve: "), err.Error())
		os.Exit(1)
	}
}
