package main

import (
	"log"
	"os"
	"time"

	"rtchat/internal/config"
	"rtchat/internal/service/app"
	"rtchat/internal/service/server"
)

func main() {
	if len(os.Args) < 2 {
		log.Fatal("Usage: client <userID>")
	}
	userID := os.Args[1]

	cfg, err := config.LoadClient()
	if err != nil {
		log.Fatal(err)
	}

	// The client signs its own token from the shared secret; it is a
	// diagnostic tool for a locally running server.
	auth := server.NewAuthenticator(cfg.JWTSecret)
	token, err := auth.Issue(userID, 24*time.Hour)
	if err != nil {
		log.Fatal(err)
	}

	client := app.NewApp(userID)
	if err := client.Run(cfg.ServerAddr, token); err != nil {
		log.Fatal(err)
	}
}
