package envelope

import (
	"crypto/ed25519"
	"crypto/sha256"
	"encoding/base64"
	"encoding/hex"
	"fmt"

	"github.com/gitgovernance/core/internal/records"
)

// ChecksumMismatch is returned when a record's declared payloadChecksum
// disagrees with the recomputed checksum of its payload.
type ChecksumMismatch struct {
	Expected string
	Actual   string
}

func (e *ChecksumMismatch) Error() string {
	return fmt.Sprintf("payload checksum mismatch: expected %s, got %s", e.Expected, e.Actual)
}

// UnverifiedSignature is returned when a signature in the header fails
// Ed25519 verification or references an unresolvable key.
type UnverifiedSignature struct {
	Index int
	KeyID string
	Cause string
}

func (e *UnverifiedSignature) Error() string {
	return fmt.Sprintf("signature %d (keyId=%s) did not verify: %s", e.Index, e.KeyID, e.Cause)
}

// UnknownKey is returned when a signature's keyId cannot be resolved to
// a public key at all (as opposed to resolving and failing to verify).
type UnknownKey struct {
	KeyID string
}

func (e *UnknownKey) Error() string {
	return fmt.Sprintf("unknown key: %s", e.KeyID)
}

// ComputeChecksum returns the lowercase hex SHA-256 of the canonicalised
// payload.
func ComputeChecksum(payload any) (string, error) {
	canon, err := Canonicalise(payload)
	if err != nil {
		return "", err
	}
	sum := sha256.Sum256(canon)
	return hex.EncodeToString(sum[:]), nil
}

// Keypair is a derived Ed25519 signing key plus its base64-encoded
// public half, as produced by DeriveKeypair.
type Keypair struct {
	PrivateKey      ed25519.PrivateKey
	PublicKeyBase64 string
}

// DeriveKeypair deterministically derives an Ed25519 keypair from a seed
// string by SHA-256'ing it to 32 bytes and using that as the Ed25519
// seed. Used for reproducible test vectors and deterministic example
// generation; production actor keys are normally generated from a CSPRNG
// by the identity layer instead (see internal/identity).
func DeriveKeypair(seed string) Keypair {
	sum := sha256.Sum256([]byte(seed))
	priv := ed25519.NewKeyFromSeed(sum[:])
	pub := priv.Public().(ed25519.PublicKey)
	return Keypair{
		PrivateKey:      priv,
		PublicKeyBase64: base64.StdEncoding.EncodeToString(pub),
	}
}

// signatureDigest builds the SHA-256 digest of the signed message string
// "{payloadChecksum}:{keyId}:{role}:{notes}:{timestamp}" described in
// spec.md §3.
func signatureDigest(payloadChecksum, keyID, role, notes string, timestamp int64) [32]byte {
	msg := fmt.Sprintf("%s:%s:%s:%s:%d", payloadChecksum, keyID, role, notes, timestamp)
	return sha256.Sum256([]byte(msg))
}

// Sign produces the base64 Ed25519 signature over the signature digest
// for the given checksum/keyId/role/notes/timestamp tuple.
func Sign(payloadChecksum, keyID, role, notes string, timestamp int64, priv ed25519.PrivateKey) string {
	digest := signatureDigest(payloadChecksum, keyID, role, notes, timestamp)
	sig := ed25519.Sign(priv, digest[:])
	return base64.StdEncoding.EncodeToString(sig)
}

// ResolvePublicKey looks up the Ed25519 public key that should back a
// given keyId. Implementations are supplied by the identity layer (an
// actor registry lookup); Verify treats a nil/false result as
// UnknownKey.
type ResolvePublicKey func(keyID string) (ed25519.PublicKey, bool)

// Verify re-derives the canonical payload checksum and the signature
// digest for every signature in the header, checking each against the
// public key resolved by resolvePub. It returns the first error
// encountered, or nil if the record is internally consistent and every
// signature verifies.
func Verify(rec records.Record, resolvePub ResolvePublicKey) error {
	checksum, err := ComputeChecksum(rec.Payload)
	if err != nil {
		return err
	}
	if checksum != rec.Header.PayloadChecksum {
		return &ChecksumMismatch{Expected: rec.Header.PayloadChecksum, Actual: checksum}
	}

	if len(rec.Header.Signatures) == 0 {
		return &UnverifiedSignature{Index: -1, Cause: "no signatures present"}
	}

	for i, sig := range rec.Header.Signatures {
		pub, ok := resolvePub(sig.KeyID)
		if !ok {
			return &UnknownKey{KeyID: sig.KeyID}
		}

		sigBytes, err := base64.StdEncoding.DecodeString(sig.Signature)
		if err != nil {
			return &UnverifiedSignature{Index: i, KeyID: sig.KeyID, Cause: "malformed base64"}
		}

		digest := signatureDigest(checksum, sig.KeyID, sig.Role, sig.Notes, sig.Timestamp)
		if !ed25519.Verify(pub, digest[:], sigBytes) {
			return &UnverifiedSignature{Index: i, KeyID: sig.KeyID, Cause: "signature does not verify"}
		}
	}
	return nil
}
