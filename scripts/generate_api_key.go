package main

import (
	"flag"
	"fmt"
	"os"

	"github.com/passbi/passbi_optimizer/internal/middleware"
)

func main() {
	env := flag.String("env", "test", "Environment: test or live")
	partner := flag.String("partner", "PARTNER_ID", "Partner id the key belongs to")
	flag.Parse()

	key, hash, prefix, err := middleware.GenerateAPIKey(*env)
	if err != nil {
		fmt.Println("Error:", err)
		os.Exit(1)
	}

	fmt.Println("═══════════════════════════════════════════════════")
	fmt.Println("API Key Generated")
	fmt.Println("═══════════════════════════════════════════════════")
	fmt.Printf("Environment:  %s\n", *env)
	fmt.Printf("\nAPI Key (shown only once):\n%s\n", key)
	fmt.Printf("\nHash (store in database):\n%s\n", hash)
	fmt.Printf("\nPrefix (for display):\n%s\n", prefix)
	fmt.Println("═══════════════════════════════════════════════════")
	fmt.Println("\nTo insert into database:")
	fmt.Printf("INSERT INTO api_key (id, partner_id, key_hash, key_prefix, name, scopes)\n")
	fmt.Printf("VALUES (gen_random_uuid()::text, '%s', '%s', '%s', 'Key Name', ARRAY['routes:read', 'dashboard:read']);\n", *partner, hash, prefix)
	fmt.Println("═══════════════════════════════════════════════════")
}
