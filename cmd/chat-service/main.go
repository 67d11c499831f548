package main

import (
	"os"

	"github.com/joho/godotenv"

	"github.com/itscraftings/converse/chatservice"
)

func main() {
	// .env is optional; real environment variables win
	_ = godotenv.Load()
	if err := chatservice.Run(); err != nil {
		os.Exit(1)
	}
}
