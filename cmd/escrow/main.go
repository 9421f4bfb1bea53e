package main

import (
	"os"

	"github.com/avamarket/escrow-cli/internal/app"
)

func main() {
	os.Exit(app.NewRunner().Run(os.Args[1:]))
}
