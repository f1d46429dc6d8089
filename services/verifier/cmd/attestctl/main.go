// attestctl signs and verifies milestone attestations offline.
package main

import (
	"encoding/json"
	"flag"
	"fmt"
	"os"
	"strings"

	"github.com/fairlens/fairlens/services/verifier/internal/attest"
	"github.com/fairlens/fairlens/services/verifier/internal/keymgr"
)

const usage = `usage:
  attestctl keygen
  attestctl attest --seed <hex> --app-id <n> --index <n> --status PASS|FAIL --milestone-hash <h> [--proof-hash <h>]
  attestctl verify --message <m> --signature <hex> --public-key <hex>`

func main() {
	if len(os.Args) < 2 {
		fmt.Fprintln(os.Stderr, usage)
		os.Exit(2)
	}
	switch os.Args[1] {
	case "keygen":
		runKeygen()
	case "attest":
		runAttest(os.Args[2:])
	case "verify":
		runVerify(os.Args[2:])
	default:
		fmt.Fprintln(os.Stderr, usage)
		os.Exit(2)
	}
}

func runKeygen() {
	keys, err := keymgr.Generate()
	if err != nil {
		fatal("generating key: " + err.Error())
	}
	printJSON(map[string]string{
		"seed":       keys.SeedHex(),
		"public_key": keys.PublicKeyHex(),
		"algorithm":  "Ed25519",
	})
}

func runAttest(args []string) {
	fs := flag.NewFlagSet("attest", flag.ContinueOnError)
	fs.SetOutput(os.Stderr)
	seed := fs.String("seed", "", "hex-encoded 32-byte Ed25519 seed")
	appID := fs.Int64("app-id", 0, "application id")
	index := fs.Int64("index", 0, "milestone index")
	status := fs.String("status", "", "PASS or FAIL")
	milestoneHash := fs.String("milestone-hash", "", "milestone content hash")
	proofHash := fs.String("proof-hash", "", "submitted proof hash")
	if err := fs.Parse(args); err != nil {
		os.Exit(2)
	}
	if strings.TrimSpace(*seed) == "" {
		fatal("--seed is required")
	}

	keys, err := keymgr.New(*seed)
	if err != nil {
		fatal(err.Error())
	}
	st, _ := attest.ParseStatus(*status)
	att, err := attest.NewService(keys).Create(attest.Claim{
		AppID:          *appID,
		MilestoneIndex: *index,
		Status:         st,
		MilestoneHash:  *milestoneHash,
		ProofHash:      *proofHash,
	})
	if err != nil {
		fatal(err.Error())
	}
	printJSON(att)
}

func runVerify(args []string) {
	fs := flag.NewFlagSet("verify", flag.ContinueOnError)
	fs.SetOutput(os.Stderr)
	message := fs.String("message", "", "canonical attestation message")
	signature := fs.String("signature", "", "hex-encoded signature")
	publicKey := fs.String("public-key", "", "hex-encoded public key")
	if err := fs.Parse(args); err != nil {
		os.Exit(2)
	}

	result, err := attest.Verify(*message, *signature, *publicKey)
	if err != nil {
		fatal(err.Error())
	}
	printJSON(result)
	if !result.Valid {
		os.Exit(1)
	}
}

func printJSON(v any) {
	enc := json.NewEncoder(os.Stdout)
	enc.SetIndent("", "  ")
	_ = enc.Encode(v)
}

func fatal(msg string) {
	fmt.Fprintln(os.Stderr, "attestctl: "+msg)
	os.Exit(1)
}
