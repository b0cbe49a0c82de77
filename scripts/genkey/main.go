// genkey generates an API key and the matching ZURE_API_KEYS keyring entry.
//
// Usage (run from the repo root):
//
//	go run scripts/genkey/main.go <agent_id> [role]
//
// role is one of ingest, reader, admin (default ingest). The generated key
// is printed once and never stored; hand it to the agent and append the
// printed entry to ZURE_API_KEYS (comma-separated).
package main

import (
	"crypto/rand"
	"encoding/base64"
	"fmt"
	"os"

	"github.com/ashita-ai/zure/internal/auth"
)

func main() {
	if len(os.Args) < 2 || len(os.Args) > 3 {
		fmt.Fprintln(os.Stderr, "usage: genkey <agent_id> [ingest|reader|admin]")
		os.Exit(2)
	}
	agentID := os.Args[1]
	role := "ingest"
	if len(os.Args) == 3 {
		role = os.Args[2]
	}
	switch role {
	case "ingest", "reader", "admin":
	default:
		fmt.Fprintf(os.Stderr, "error: unknown role %q\n", role)
		os.Exit(2)
	}

	raw := make([]byte, 32)
	if _, err := rand.Read(raw); err != nil {
		fmt.Fprintf(os.Stderr, "error: generate key: %v\n", err)
		os.Exit(1)
	}
	apiKey := "zk_" + base64.RawURLEncoding.EncodeToString(raw)

	hash, err := auth.HashAPIKey(apiKey)
	if err != nil {
		fmt.Fprintf(os.Stderr, "error: hash key: %v\n", err)
		os.Exit(1)
	}

	fmt.Printf("API key (save it now, it is not stored):\n  %s\n\n", apiKey)
	fmt.Printf("Keyring entry for ZURE_API_KEYS:\n  %s:%s:%s\n", agentID, hash, role)
}
