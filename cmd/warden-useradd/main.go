// warden-useradd creates a control-API account in the warden database.
package main

import (
	"context"
	"flag"
	"fmt"
	"os"

	"dns-warden/pkg/config"
	"dns-warden/pkg/logging"
	"dns-warden/pkg/storage"

	"golang.org/x/crypto/bcrypt"
)

func main() {
	configPath := flag.String("config", "config.yml", "Path to configuration file")
	username := flag.String("username", "", "Username for the new account")
	password := flag.String("password", "", "Password for the new account")
	cost := flag.Int("cost", 12, "Bcrypt cost parameter (10-14 recommended)")
	flag.Parse()

	if *username == "" || *password == "" {
		fmt.Fprintln(os.Stderr, "Usage: warden-useradd -username <name> -password <password> [-config config.yml] [-cost 12]")
		os.Exit(1)
	}
	if *cost < bcrypt.MinCost || *cost > bcrypt.MaxCost {
		fmt.Fprintf(os.Stderr, "Error: cost must be between %d and %d\n", bcrypt.MinCost, bcrypt.MaxCost)
		os.Exit(1)
	}

	cfg, err := config.Load(*configPath)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Failed to load config: %v\n", err)
		os.Exit(1)
	}

	hash, err := bcrypt.GenerateFromPassword([]byte(*password), *cost)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Error generating hash: %v\n", err)
		os.Exit(1)
	}

	store, err := storage.NewSQLiteStore(&cfg.Storage, nil, logging.NewDefault())
	if err != nil {
		fmt.Fprintf(os.Stderr, "Failed to open storage: %v\n", err)
		os.Exit(1)
	}
	defer func() { _ = store.Close() }()

	err = store.CreateUser(context.Background(), &storage.User{
		Username:       *username,
		HashedPassword: string(hash),
	})
	if err != nil {
		fmt.Fprintf(os.Stderr, "Failed to create user: %v\n", err)
		os.Exit(1)
	}

	fmt.Printf("User %q created\n", *username)
}
