package syncer

import (
	"crypto/ed25519"
	"crypto/hmac"
	"crypto/sha256"
	"encoding/hex"
	"fmt"

	"github.com/dshills/bombe/internal/config"
	"github.com/dshills/bombe/pkg/types"
)

// Signer produces and checks artifact signatures. Key material is hex:
// an arbitrary secret for hmac-sha256, a 32-byte seed for ed25519.
type Signer struct {
	algorithm string
	keyID     string
	secret    []byte
	priv      ed25519.PrivateKey
}

// NewSigner builds a Signer from the configured algorithm and material.
// A zero-value Signing config yields a nil signer (signing disabled).
func NewSigner(cfg config.Signing) (*Signer, error) {
	if cfg.Algorithm == "" {
		return nil, nil
	}
	material, err := hex.DecodeString(cfg.KeyMaterial)
	if err != nil {
		return nil, fmt.Errorf("signing key_material must be hex: %w", err)
	}
	s := &Signer{algorithm: cfg.Algorithm, keyID: cfg.KeyID}
	switch cfg.Algorithm {
	case config.SigningHMACSHA256:
		s.secret = material
	case config.SigningEd25519:
		if len(material) != ed25519.SeedSize {
			return nil, fmt.Errorf("ed25519 key_material must be a %d-byte seed", ed25519.SeedSize)
		}
		s.priv = ed25519.NewKeyFromSeed(material)
	default:
		return nil, fmt.Errorf("unknown signing algorithm: %s", cfg.Algorithm)
	}
	return s, nil
}

// KeyID returns the configured key identifier.
func (s *Signer) KeyID() string { return s.keyID }

// Algorithm returns the configured algorithm name.
func (s *Signer) Algorithm() string { return s.algorithm }

// PublicKey returns the hex verification key (the shared secret for HMAC).
func (s *Signer) PublicKey() string {
	switch s.algorithm {
	case config.SigningHMACSHA256:
		return hex.EncodeToString(s.secret)
	case config.SigningEd25519:
		return hex.EncodeToString(s.priv.Public().(ed25519.PublicKey))
	}
	return ""
}

// Sign stamps checksum, signature, key id, and algorithm on the artifact.
func (s *Signer) Sign(artifact *Artifact) error {
	if err := artifact.Seal(); err != nil {
		return err
	}
	payload := []byte(artifact.Checksum)
	switch s.algorithm {
	case config.SigningHMACSHA256:
		mac := hmac.New(sha256.New, s.secret)
		mac.Write(payload)
		artifact.Signature = hex.EncodeToString(mac.Sum(nil))
	case config.SigningEd25519:
		artifact.Signature = hex.EncodeToString(ed25519.Sign(s.priv, payload))
	}
	artifact.KeyID = s.keyID
	artifact.Algorithm = s.algorithm
	return nil
}

// VerifySignature checks an artifact's signature against a trusted key.
// publicKey is hex: the shared secret for hmac-sha256, the 32-byte public
// key for ed25519.
func VerifySignature(artifact Artifact, algorithm, publicKey string) error {
	keyBytes, err := hex.DecodeString(publicKey)
	if err != nil {
		return types.WithCode(types.CodeSignatureMismatch,
			fmt.Errorf("trusted key for %s is not hex", artifact.KeyID))
	}
	sig, err := hex.DecodeString(artifact.Signature)
	if err != nil {
		return types.WithCode(types.CodeSignatureMismatch,
			fmt.Errorf("artifact %s signature is not hex", artifact.ArtifactID))
	}
	payload := []byte(artifact.Checksum)

	switch algorithm {
	case config.SigningHMACSHA256:
		mac := hmac.New(sha256.New, keyBytes)
		mac.Write(payload)
		if !hmac.Equal(mac.Sum(nil), sig) {
			return types.WithCode(types.CodeSignatureMismatch,
				fmt.Errorf("hmac mismatch for artifact %s", artifact.ArtifactID))
		}
	case config.SigningEd25519:
		if len(keyBytes) != ed25519.PublicKeySize ||
			!ed25519.Verify(ed25519.PublicKey(keyBytes), payload, sig) {
			return types.WithCode(types.CodeSignatureMismatch,
				fmt.Errorf("ed25519 verification failed for artifact %s", artifact.ArtifactID))
		}
	default:
		return types.WithCode(types.CodeSignatureMismatch,
			fmt.Errorf("unknown signature algorithm %q", algorithm))
	}
	return nil
}
