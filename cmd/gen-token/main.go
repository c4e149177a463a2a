package main

import (
	"flag"
	"fmt"
	"os"
	"time"

	"github.com/joho/godotenv"
	log "github.com/sirupsen/logrus"

	"taskmate/session"
)

func main() {
	_ = godotenv.Load()

	var (
		ttl      = flag.Duration("ttl", time.Hour, "token lifetime")
		audience = flag.String("audience", os.Getenv("AUTH0_AUDIENCE"), "audience claim")
	)
	flag.Parse()

	userID := "local-user"
	if flag.NArg() > 0 {
		userID = flag.Arg(0)
	}

	secret := os.Getenv("LOCAL_AUTH_SECRET")
	if secret == "" {
		log.Fatal("LOCAL_AUTH_SECRET must be set")
	}
	tok, err := session.IssueLocalToken([]byte(secret), userID, *audience, *ttl)
	if err != nil {
		log.Fatalf("issue token: %v", err)
	}
	fmt.Print(tok)
}
