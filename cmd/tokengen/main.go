// Package main provides a CLI tool for minting dev bearer tokens. The tokens
// use the dev signing key and will NOT work against a production deployment.
package main

import (
	"encoding/json"
	"flag"
	"fmt"
	"os"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/google/uuid"

	"schoolhub/internal/seeder"
)

// devSigningKey matches config.go when JWT_SIGNING_KEY is not set.
const devSigningKey = "dev-secret-key-change-in-production"

type tokenOutput struct {
	Token     string `json:"token"`
	Principal string `json:"principal"`
	ExpiresIn string `json:"expires_in"`
	Usage     string `json:"usage"`
}

func main() {
	principal := flag.String("principal", "", "Principal ID (UUID). Generated if empty.")
	demo := flag.String("demo", "", "Use a seeded demo principal: 'tenant' or 'direct'.")
	key := flag.String("key", devSigningKey, "HS256 signing key.")
	ttl := flag.Duration("ttl", time.Hour, "Token lifetime.")
	flag.Parse()

	subject := *principal
	switch *demo {
	case "tenant":
		subject = seeder.DemoTenantPrincipal
	case "direct":
		subject = seeder.DemoDirectPrincipal
	case "":
	default:
		fmt.Fprintf(os.Stderr, "unknown demo principal %q (want tenant or direct)\n", *demo)
		os.Exit(2)
	}
	if subject == "" {
		subject = uuid.NewString()
	}
	if _, err := uuid.Parse(subject); err != nil {
		fmt.Fprintf(os.Stderr, "principal must be a UUID: %v\n", err)
		os.Exit(2)
	}

	now := time.Now()
	claims := jwt.RegisteredClaims{
		Subject:   subject,
		IssuedAt:  jwt.NewNumericDate(now),
		ExpiresAt: jwt.NewNumericDate(now.Add(*ttl)),
	}
	token, err := jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString([]byte(*key))
	if err != nil {
		fmt.Fprintf(os.Stderr, "sign token: %v\n", err)
		os.Exit(1)
	}

	out := tokenOutput{
		Token:     token,
		Principal: subject,
		ExpiresIn: ttl.String(),
		Usage:     fmt.Sprintf("curl -H 'Authorization: Bearer %s' http://localhost:8080/dashboard", token),
	}
	enc := json.NewEncoder(os.Stdout)
	enc.SetIndent("", "  ")
	if err := enc.Encode(out); err != nil {
		fmt.Fprintf(os.Stderr, "encode output: %v\n", err)
		os.Exit(1)
	}
}
