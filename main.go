package main

import (
	"fmt"
	"os"

	"github.com/drawee/drawee-go/cmd"
	"github.com/drawee/drawee-go/internal/conf"
	"github.com/drawee/drawee-go/internal/logger"
)

func main() {
	settings := &conf.Settings{}

	err := cmd.RootCommand(settings).Execute()
	_ = logger.Global().Flush()
	if err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}
