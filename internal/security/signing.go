// Package security provides hashing and signature verification for approvals and exported payloads
package security

import (
	"crypto/ecdsa"
	"encoding/hex"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/crypto"
	"github.com/sirupsen/logrus"
)

// ErrInvalidSignature is returned when a signature does not belong to the claimed signer
var ErrInvalidSignature = errors.New("invalid signature")

// SignatureVerifier checks an approval signature submitted by a signer
type SignatureVerifier interface {
	Verify(signerAddress string, message []byte, signature string) error
}

// OpaqueVerifier accepts any non-empty signature blob. Signatures are recorded but not checked.
type OpaqueVerifier struct{}

// Verify implements SignatureVerifier
func (OpaqueVerifier) Verify(_ string, _ []byte, signature string) error {
	if strings.TrimSpace(signature) == "" {
		return fmt.Errorf("%w: empty signature", ErrInvalidSignature)
	}
	return nil
}

// EthereumVerifier recovers the secp256k1 signer of keccak256(message) and compares it to the claimed address
type EthereumVerifier struct{}

// Verify implements SignatureVerifier
func (EthereumVerifier) Verify(signerAddress string, message []byte, signature string) error {
	if !common.IsHexAddress(signerAddress) {
		return fmt.Errorf("%w: malformed signer address %q", ErrInvalidSignature, signerAddress)
	}
	sig, err := hex.DecodeString(strings.TrimPrefix(signature, "0x"))
	if err != nil {
		return fmt.Errorf("%w: %v", ErrInvalidSignature, err)
	}
	if len(sig) != crypto.SignatureLength {
		return fmt.Errorf("%w: length %d", ErrInvalidSignature, len(sig))
	}
	if sig[crypto.RecoveryIDOffset] >= 27 {
		sig[crypto.RecoveryIDOffset] -= 27
	}
	pub, err := crypto.SigToPub(crypto.Keccak256(message), sig)
	if err != nil {
		return fmt.Errorf("%w: %v", ErrInvalidSignature, err)
	}
	if crypto.PubkeyToAddress(*pub) != common.HexToAddress(signerAddress) {
		return fmt.Errorf("%w: recovered signer does not match %s", ErrInvalidSignature, signerAddress)
	}
	return nil
}

// ApprovalMessage is the canonical message a signer signs for a decision on a request
func ApprovalMessage(requestID, batchID string, approved bool) []byte {
	decision := "reject"
	if approved {
		decision = "approve"
	}
	return []byte(fmt.Sprintf("tburn-genesis:%s:%s:%s", requestID, batchID, decision))
}

// Keccak256Hex hashes the concatenated parts and returns a 0x-prefixed hex digest
func Keccak256Hex(parts ...string) string {
	data := make([][]byte, len(parts))
	for i, p := range parts {
		data[i] = []byte(p)
	}
	return crypto.Keccak256Hash(data...).Hex()
}

// DeriveAddress returns a deterministic checksummed address for a label, for seeded recipients
func DeriveAddress(label string) string {
	hash := crypto.Keccak256([]byte(label))
	return common.BytesToAddress(hash[12:]).Hex()
}

// Signer holds a secp256k1 key used to sign approvals and exported payloads
type Signer struct {
	privateKey *ecdsa.PrivateKey
	address    common.Address
}

// NewSigner generates a fresh signing key
func NewSigner() (*Signer, error) {
	key, err := crypto.GenerateKey()
	if err != nil {
		return nil, fmt.Errorf("failed to generate key: %w", err)
	}
	s := &Signer{privateKey: key, address: crypto.PubkeyToAddress(key.PublicKey)}
	logrus.Infof("Payload signer initialized with address %s", s.address.Hex())
	return s, nil
}

// Address returns the signer's checksummed address
func (s *Signer) Address() string {
	return s.address.Hex()
}

// Sign signs keccak256(message) and returns the 65-byte signature as 0x hex
func (s *Signer) Sign(message []byte) (string, error) {
	sig, err := crypto.Sign(crypto.Keccak256(message), s.privateKey)
	if err != nil {
		return "", fmt.Errorf("failed to sign message: %w", err)
	}
	return "0x" + hex.EncodeToString(sig), nil
}

// SignPayload wraps payload with its keccak256 digest and a signature over it
func (s *Signer) SignPayload(payload interface{}) (map[string]interface{}, error) {
	payloadBytes, err := json.Marshal(payload)
	if err != nil {
		return nil, fmt.Errorf("failed to marshal payload: %w", err)
	}
	signature, err := s.Sign(payloadBytes)
	if err != nil {
		return nil, err
	}
	return map[string]interface{}{
		"payload": json.RawMessage(payloadBytes),
		"_signature": map[string]interface{}{
			"keccak256": crypto.Keccak256Hash(payloadBytes).Hex(),
			"signature": signature,
			"signer":    s.Address(),
			"algorithm": "secp256k1-keccak256",
			"timestamp": time.Now().Unix(),
		},
	}, nil
}
