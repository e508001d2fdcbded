package main

import (
	"errors"
	"flag"
	"fmt"
	"log/slog"
	"os"
	"time"

	"github.com/google/uuid"

	"github.com/floroz/hammer/pkg/auth"
	"github.com/floroz/hammer/pkg/config"
	"github.com/floroz/hammer/pkg/logging"
)

// token prints a signed access token for local testing of the bidding API:
//
//	token -name "Ada" [-user <uuid>] [-ttl 1h]
func main() {
	userFlag := flag.String("user", "", "subject user id (random when empty)")
	name := flag.String("name", "", "display name carried in the token")
	ttl := flag.Duration("ttl", time.Hour, "token lifetime")
	flag.Parse()

	cfg, err := config.Load()
	if err != nil {
		slog.Error("Failed to load config", "error", err)
		os.Exit(1)
	}
	logger := logging.New(cfg.Log.Level)

	if err := cfg.RequireAuth(); err != nil {
		logger.Error("Invalid configuration", "error", err)
		os.Exit(1)
	}
	if cfg.Auth.PrivateKeyPath == "" {
		logger.Error("Invalid configuration", "error", errors.New("AUTH_PRIVATE_KEY_PATH is not set"))
		os.Exit(1)
	}

	userID := uuid.New()
	if *userFlag != "" {
		if userID, err = uuid.Parse(*userFlag); err != nil {
			logger.Error("Invalid user id", "error", err)
			os.Exit(1)
		}
	}

	privateKey, err := os.ReadFile(cfg.Auth.PrivateKeyPath)
	if err != nil {
		logger.Error("Failed to read private key", "path", cfg.Auth.PrivateKeyPath, "error", err)
		os.Exit(1)
	}
	publicKey, err := os.ReadFile(cfg.Auth.PublicKeyPath)
	if err != nil {
		logger.Error("Failed to read public key", "path", cfg.Auth.PublicKeyPath, "error", err)
		os.Exit(1)
	}

	signer, err := auth.NewSigner(privateKey, publicKey, cfg.Auth.Issuer)
	if err != nil {
		logger.Error("Failed to load keys", "error", err)
		os.Exit(1)
	}

	token, err := signer.Sign(userID, *name, nil, *ttl)
	if err != nil {
		logger.Error("Failed to sign token", "error", err)
		os.Exit(1)
	}

	logger.Info("Issued token", "user_id", userID, "expires_in", ttl.String())
	fmt.Println(token)
}
