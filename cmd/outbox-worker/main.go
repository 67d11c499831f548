package main

import (
	"os"

	"github.com/joho/godotenv"

	"github.com/itscraftings/converse/outboxworker"
)

func main() {
	_ = godotenv.Load()
	if err := outboxworker.Run(); err != nil {
		os.Exit(1)
	}
}
