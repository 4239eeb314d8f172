// Command token issues admin API bearer tokens signed with the configured JWT secret.
package main

import (
	"flag"
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/shopsync/backend/internal/infrastructure/auth"
	"github.com/shopsync/backend/internal/infrastructure/config"
)

func main() {
	var (
		configPath string
		subject    string
		scopes     string
		ttl        time.Duration
	)
	flag.StringVar(&configPath, "config", "", "Path to config.toml")
	flag.StringVar(&subject, "subject", "", "Token subject, usually an operator name (required)")
	flag.StringVar(&scopes, "scopes", strings.Join([]string{auth.ScopeSyncRead, auth.ScopeSyncWrite}, ","),
		"Comma separated scopes: "+strings.Join([]string{auth.ScopeSyncRead, auth.ScopeSyncWrite, auth.ScopeShopAdmin}, ", "))
	flag.DurationVar(&ttl, "ttl", 0, "Token lifetime (default: jwt.token_expiration)")
	flag.Parse()

	if subject == "" {
		fmt.Fprintln(os.Stderr, "-subject is required")
		flag.Usage()
		os.Exit(2)
	}

	cfg, err := config.LoadFile(configPath)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Failed to load configuration: %v\n", err)
		os.Exit(1)
	}
	if ttl > 0 {
		cfg.JWT.TokenExpiration = ttl
	}

	issued, err := auth.NewJWTService(cfg.JWT).GenerateToken(subject, splitScopes(scopes))
	if err != nil {
		fmt.Fprintf(os.Stderr, "Failed to issue token: %v\n", err)
		os.Exit(1)
	}
	fmt.Fprintf(os.Stderr, "expires at %s\n", issued.ExpiresAt.Format(time.RFC3339))
	fmt.Println(issued.Token)
}

func splitScopes(raw string) []string {
	var out []string
	for _, s := range strings.Split(raw, ",") {
		if s = strings.TrimSpace(s); s != "" {
			out = append(out, s)
		}
	}
	return out
}
