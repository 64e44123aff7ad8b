package main

import (
	"context"
	"flag"
	"fmt"
	"log"
	"path/filepath"

	firebase "firebase.google.com/go/v4"
	"github.com/klipach/courier/auth"
	"google.golang.org/api/option"
)

// go run ./cmd/gentoken -uid <uid> -apikey <web api key>
// prints an ID token for calling the Send function as <uid>.
func main() {
	ctx := context.Background()
	uidPtr := flag.String("uid", "", "User UID for token generation")
	apiKeyPtr := flag.String("apikey", "", "Firebase API key for Identity Toolkit REST API")
	credentialsPtr := flag.String("credentials", "./service_account_key.json", "Service account key file")
	flag.Parse()

	if *uidPtr == "" {
		log.Fatalf("Please provide a user UID using the -uid flag")
	}

	absPath, err := filepath.Abs(*credentialsPtr)
	if err != nil {
		log.Fatalf("failed to get absolute path: %v", err)
	}
	app, err := firebase.NewApp(ctx, nil, option.WithCredentialsFile(absPath))
	if err != nil {
		log.Fatalf("error initializing app: %v", err)
	}

	client, err := app.Auth(ctx)
	if err != nil {
		log.Fatalf("error getting Auth client: %v", err)
	}

	provider := auth.NewFirebaseProvider(client, *apiKeyPtr)
	principal, err := provider.ExchangeCustomToken(ctx, *uidPtr)
	if err != nil {
		log.Fatalf("error exchanging custom token: %v", err)
	}

	fmt.Println(principal.IDToken)
}
