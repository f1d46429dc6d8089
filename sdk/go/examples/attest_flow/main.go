// Signs a PASS attestation for one milestone and verifies it back
// through the API. Run against a local verifier:
//
//	VERIFIER_URL=http://localhost:3001 go run .
package main

import (
	"context"
	"encoding/json"
	"fmt"
	"os"

	"github.com/fairlens/fairlens/sdk/go/fairlens"
)

func main() {
	baseURL := os.Getenv("VERIFIER_URL")
	if baseURL == "" {
		baseURL = "http://localhost:3001"
	}
	client := fairlens.NewClient(baseURL)
	ctx := context.Background()

	att, err := client.CreateAttestation(ctx, fairlens.AttestationRequest{
		AppID:          7410,
		MilestoneIndex: 0,
		Status:         "PASS",
		MilestoneHash:  "QmExampleMilestoneHash",
		ProofHash:      "QmExampleProofHash",
	})
	if err != nil {
		panic(err)
	}

	result, err := client.VerifyAttestation(ctx, att.Message, att.Signature, att.VerifierPubkey)
	if err != nil {
		panic(err)
	}

	out, _ := json.MarshalIndent(map[string]any{
		"attestation": att,
		"valid":       result.Valid,
	}, "", "  ")
	fmt.Println(string(out))
}
