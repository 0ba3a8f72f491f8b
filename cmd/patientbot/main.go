package main

import (
	"fmt"
	"os"

	"github.com/joho/godotenv"

	"github.com/LeventeLantos/patient-messaging/internal/cli"
)

func main() {
	_ = godotenv.Load()

	if err := cli.RootCmd().Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}
