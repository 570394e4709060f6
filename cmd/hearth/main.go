package main

import (
	"errors"
	"io/fs"
	"log"

	"hearth/cmd/internal/app"

	"github.com/joho/godotenv"
)

func main() {
	// .env is optional; real deployments pass configuration through the environment.
	if err := godotenv.Load(); err != nil && !errors.Is(err, fs.ErrNotExist) {
		log.Fatalf("load .env: %v", err)
	}

	if err := app.Run(); err != nil {
		log.Fatal(err)
	}
}
