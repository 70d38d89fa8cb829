package main

import (
	"os"

	"mmbot/cmd/mmbot/cmd"
)

func main() {
	os.Exit(cmd.Execute())
}
