package main

import (
	"flag"
	"fmt"
	"io"

	"github.com/HerbHall/sensorguard/internal/auth"
	"github.com/HerbHall/sensorguard/internal/config"
	"github.com/HerbHall/sensorguard/internal/server"
)

// runToken mints a bearer token signed with the configured secret:
//
//	sensorguard token -subject gateway-1 -role operator
func runToken(args []string, stdout, stderr io.Writer) int {
	fs := flag.NewFlagSet("token", flag.ContinueOnError)
	fs.SetOutput(stderr)
	configPath := fs.String("config", "", "path to configuration file")
	subject := fs.String("subject", "", "token subject (device or user name)")
	role := fs.String("role", string(auth.RoleOperator), "role: admin, operator or viewer")
	ttl := fs.Duration("ttl", 0, "token lifetime (default auth.token_ttl)")
	if err := fs.Parse(args); err != nil {
		return 2
	}
	if *subject == "" {
		fmt.Fprintln(stderr, "token: -subject is required")
		return 2
	}

	v, err := server.LoadConfig(*configPath)
	if err != nil {
		fmt.Fprintf(stderr, "token: %v\n", err)
		return 1
	}
	settings, err := config.Load(v)
	if err != nil {
		fmt.Fprintf(stderr, "token: %v\n", err)
		return 1
	}
	if !settings.Auth.Enabled() {
		fmt.Fprintln(stderr, "token: auth.jwt_secret is not configured")
		return 1
	}

	lifetime := settings.Auth.TokenTTL
	if *ttl > 0 {
		lifetime = *ttl
	}
	tok, err := auth.NewTokenService([]byte(settings.Auth.JWTSecret), lifetime).IssueToken(*subject, auth.Role(*role))
	if err != nil {
		fmt.Fprintf(stderr, "token: %v\n", err)
		return 1
	}
	fmt.Fprintln(stdout, tok)
	return 0
}
