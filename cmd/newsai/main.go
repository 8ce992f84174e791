package main

import (
	"os"

	"horse.fit/newsai/internal/app"
)

func main() {
	os.Exit(app.Run(os.Args[1:]))
}
