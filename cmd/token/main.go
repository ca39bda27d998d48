package main

import (
	"context"
	"flag"
	"fmt"
	"os"
	"time"

	"github.com/google/uuid"

	"github.com/FlyingWhaleisME/where-to-next-sub000/internal/auth"
	"github.com/FlyingWhaleisME/where-to-next-sub000/internal/config"
	"github.com/FlyingWhaleisME/where-to-next-sub000/internal/store"
)

// Dev utility: mints a bearer token for connecting to the gateway. With
// -name it first creates the user in the configured data store.
func main() {
	userID := flag.String("user", "", "Existing user UUID")
	name := flag.String("name", "", "Create a user with this display name, then mint")
	email := flag.String("email", "", "Email for the created user")
	ttl := flag.Duration("ttl", 24*time.Hour, "Token lifetime")
	flag.Parse()

	if *userID == "" && *name == "" {
		fmt.Fprintln(os.Stderr, "Usage: token -user <uuid> | -name <display-name> [-email <email>] [-ttl <duration>]")
		os.Exit(1)
	}

	cfg := config.Load()
	ctx := context.Background()

	id, err := resolveUser(ctx, cfg, *userID, *name, *email)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Failed to resolve user: %v\n", err)
		os.Exit(1)
	}

	token, err := auth.MintToken(cfg.JWTSecret, id, *ttl)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Failed to sign token: %v\n", err)
		os.Exit(1)
	}

	fmt.Printf("User:  %s\n", id)
	fmt.Printf("Token: %s\n", token)
	fmt.Printf("Try:   ws://localhost:%s/ws?token=%s\n", cfg.Port, token)
}

func resolveUser(ctx context.Context, cfg *config.Config, userID, name, email string) (uuid.UUID, error) {
	if userID != "" {
		return uuid.Parse(userID)
	}

	var data store.DataStore
	var err error
	if cfg.DatabaseURL != "" {
		data, err = store.NewPostgresStore(ctx, cfg.DatabaseURL)
	} else {
		data, err = store.NewSQLiteStore(ctx, cfg.SQLitePath)
	}
	if err != nil {
		return uuid.Nil, err
	}
	defer data.Close()

	user, err := data.CreateUser(ctx, name, email)
	if err != nil {
		return uuid.Nil, err
	}
	return user.ID, nil
}
