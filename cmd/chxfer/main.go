package main

import (
	"os"

	"github.com/JonMunkholm/chxfer/internal/cli"
)

func main() {
	os.Exit(cli.Execute())
}
