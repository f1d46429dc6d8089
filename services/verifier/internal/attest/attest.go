package attest

import (
	"crypto/ed25519"
	"encoding/hex"
	"fmt"
	"strings"
	"time"

	"github.com/fairlens/fairlens/pkg/contenthash"
	"github.com/fairlens/fairlens/services/verifier/internal/keymgr"
)

// Status is the inspection outcome carried by an attestation.
type Status string

const (
	StatusPass Status = "PASS"
	StatusFail Status = "FAIL"
)

func ParseStatus(s string) (Status, bool) {
	switch Status(strings.ToUpper(strings.TrimSpace(s))) {
	case StatusPass:
		return StatusPass, true
	case StatusFail:
		return StatusFail, true
	}
	return "", false
}

// ValidationError carries per-field detail for a rejected claim.
// Callers must fix the input; retrying as-is will fail again.
type ValidationError struct {
	Details []string
}

func (e *ValidationError) Error() string {
	return "validation failed: " + strings.Join(e.Details, "; ")
}

// Claim is the unsigned input for an attestation.
type Claim struct {
	AppID          int64
	MilestoneIndex int64
	Status         Status
	MilestoneHash  string
	ProofHash      string
	Metadata       map[string]any
}

// Attestation is a signed claim. Immutable once created; corrections
// require a new attestation.
type Attestation struct {
	AppID          int64  `json:"app_id"`
	MilestoneIndex int64  `json:"milestone_index"`
	Status         Status `json:"status"`
	Timestamp      int64  `json:"timestamp"`
	MilestoneHash  string `json:"milestone_hash"`
	ProofHash      string `json:"proof_hash"`
	VerifierPubkey string `json:"verifier_pubkey"`
	Message        string `json:"message"`
	Signature      string `json:"signature"`
	MetadataHash   string `json:"metadata_hash,omitempty"`
}

// CanonicalMessage builds the exact byte string that gets signed. The
// timestamp is embedded so the signed payload pins it; field order is
// fixed and matches the on-chain contract's expectation.
func CanonicalMessage(appID, milestoneIndex int64, status Status, timestamp int64, milestoneHash, proofHash string) string {
	return fmt.Sprintf("app:%d|ms:%d|status:%s|ts:%d|hash:%s|proof:%s",
		appID, milestoneIndex, status, timestamp, milestoneHash, proofHash)
}

// Service signs milestone claims with the verifier's key.
type Service struct {
	keys *keymgr.Manager
	now  func() time.Time
}

func NewService(keys *keymgr.Manager) *Service {
	return &Service{keys: keys, now: time.Now}
}

func (s *Service) Create(claim Claim) (Attestation, error) {
	var details []string
	if claim.AppID <= 0 {
		details = append(details, "app_id must be a positive integer")
	}
	if claim.MilestoneIndex < 0 {
		details = append(details, "milestone_index must be non-negative")
	}
	if claim.Status != StatusPass && claim.Status != StatusFail {
		details = append(details, "status must be PASS or FAIL")
	}
	if strings.TrimSpace(claim.MilestoneHash) == "" {
		details = append(details, "milestone_hash is required")
	}
	if len(details) > 0 {
		return Attestation{}, &ValidationError{Details: details}
	}

	ts := s.now().UTC().Unix()
	message := CanonicalMessage(claim.AppID, claim.MilestoneIndex, claim.Status, ts, claim.MilestoneHash, claim.ProofHash)
	signature := s.keys.Sign([]byte(message))

	att := Attestation{
		AppID:          claim.AppID,
		MilestoneIndex: claim.MilestoneIndex,
		Status:         claim.Status,
		Timestamp:      ts,
		MilestoneHash:  claim.MilestoneHash,
		ProofHash:      claim.ProofHash,
		VerifierPubkey: s.keys.PublicKeyHex(),
		Message:        message,
		Signature:      hex.EncodeToString(signature),
	}
	if len(claim.Metadata) > 0 {
		hash, _, err := contenthash.CanonicalSHA256(claim.Metadata)
		if err != nil {
			return Attestation{}, fmt.Errorf("hashing metadata: %w", err)
		}
		att.MetadataHash = hash
	}
	return att, nil
}

// Result is the outcome of verifying a (message, signature, key) triple.
type Result struct {
	Valid     bool   `json:"valid"`
	Message   string `json:"message"`
	Signature string `json:"signature"`
}

// Verify checks an Ed25519 signature over the message bytes. Malformed
// hex or wrong-length inputs yield Valid=false, not an error; only an
// entirely absent field is a validation failure.
func Verify(message, signatureHex, publicKeyHex string) (Result, error) {
	var missing []string
	if strings.TrimSpace(message) == "" {
		missing = append(missing, "message is required")
	}
	if strings.TrimSpace(signatureHex) == "" {
		missing = append(missing, "signature is required")
	}
	if strings.TrimSpace(publicKeyHex) == "" {
		missing = append(missing, "public_key is required")
	}
	if len(missing) > 0 {
		return Result{}, &ValidationError{Details: missing}
	}

	out := Result{Message: message, Signature: signatureHex}
	signature, err := hex.DecodeString(strings.TrimSpace(signatureHex))
	if err != nil || len(signature) != ed25519.SignatureSize {
		return out, nil
	}
	publicKey, err := hex.DecodeString(strings.TrimSpace(publicKeyHex))
	if err != nil || len(publicKey) != ed25519.PublicKeySize {
		return out, nil
	}
	out.Valid = ed25519.Verify(ed25519.PublicKey(publicKey), []byte(message), signature)
	return out, nil
}
