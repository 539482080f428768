package plugins

import (
	"bytes"
	"crypto/ecdsa"
	"crypto/rand"
	"crypto/sha256"
	"encoding/base64"
	"encoding/json"
	"fmt"
	"log"

	"github.com/pdellaert/fbw-installer/internal/models"
)

// embeddedPublicKey is the base64 encoded PEM (SPKI, P-256) key that
// official plugin releases are signed with.
const embeddedPublicKey = "LS0tLS1CRUdJTiBQVUJMSUMgS0VZLS0tLS0KTUZrd0V3WUhLb1pJemowQ0FRWUlLb1pJemowREFRY0RRZ0FFaVpMZTU4aXNNdVBONW1sV0FtazNKbTIxRjh3bApFVWNwVUcwUGh6QVcvOS9TMjNWUGhhVGdiVVdlNElZcVZkNHk3UGFyZDdxUys0QjhvVmFGYldPUVR3PT0KLS0tLS1FTkQgUFVCTElDIEtFWS0tLS0t"

// Verifier checks plugin signatures against a single trusted key.
type Verifier struct {
	key *ecdsa.PublicKey
}

// NewVerifier creates a verifier trusting key.
func NewVerifier(key *ecdsa.PublicKey) *Verifier {
	return &Verifier{key: key}
}

// DefaultVerifier trusts the embedded release key.
func DefaultVerifier() (*Verifier, error) {
	return NewVerifierFromBase64(embeddedPublicKey)
}

// NewVerifierFromBase64 trusts a base64 encoded PEM public key.
func NewVerifierFromBase64(encoded string) (*Verifier, error) {
	key, err := DecodePublicKey(encoded)
	if err != nil {
		return nil, err
	}
	return NewVerifier(key), nil
}

// Verify sets payload.Verified and returns the payload. A missing
// signature, a malformed one or any failure while checking it all yield
// Verified=false; Verify never fails and never modifies the manifest.
//
// Assets must be JSON: the signed message embeds each asset's parsed
// content, so raw binary assets cannot be covered by a signature.
func (v *Verifier) Verify(payload *models.PluginPayload) *models.PluginPayload {
	payload.Verified = false
	if !payload.DistFile.HasSignature() {
		return payload
	}

	verified, err := v.check(payload)
	if err != nil {
		log.Printf("Plugin %s signature could not be checked: %v", payload, err)
		return payload
	}
	if !verified {
		log.Printf("Plugin %s is invalid and can not be verified", payload)
		return payload
	}

	payload.Verified = true
	log.Printf("Plugin %s is successfully verified", payload)
	return payload
}

func (v *Verifier) check(payload *models.PluginPayload) (verified bool, err error) {
	defer func() {
		if r := recover(); r != nil {
			verified = false
			err = fmt.Errorf("verification panicked: %v", r)
		}
	}()

	if v == nil || v.key == nil {
		return false, fmt.Errorf("no public key configured")
	}

	signature, err := base64.StdEncoding.DecodeString(*payload.DistFile.Signature)
	if err != nil {
		return false, fmt.Errorf("invalid signature encoding: %w", err)
	}

	message, err := CanonicalBytes(payload)
	if err != nil {
		return false, err
	}

	digest := sha256.Sum256(message)
	return ecdsa.VerifyASN1(v.key, digest[:], signature), nil
}

// Sign computes the signature of payload with key, base64 encoded. The
// manifest's current signature, if any, is not part of the signed message.
func Sign(key *ecdsa.PrivateKey, payload *models.PluginPayload) (string, error) {
	message, err := CanonicalBytes(payload)
	if err != nil {
		return "", err
	}

	digest := sha256.Sum256(message)
	signature, err := ecdsa.SignASN1(rand.Reader, key, digest[:])
	if err != nil {
		return "", fmt.Errorf("failed to sign plugin: %w", err)
	}
	return base64.StdEncoding.EncodeToString(signature), nil
}

// CanonicalBytes builds the signed message of a payload:
//
//	{"distFile":<manifest without signature>,"assets":[<asset>...]}
//
// The manifest is taken from its raw bytes when known, so members the
// model does not define are covered too. Every part is re-encoded as
// JavaScript's JSON.stringify prints parsed JSON, which makes signatures
// produced by the JavaScript release tooling verify here.
func CanonicalBytes(payload *models.PluginPayload) ([]byte, error) {
	rawDistFile := []byte(payload.DistFile.Raw)
	if len(rawDistFile) == 0 {
		var err error
		rawDistFile, err = json.Marshal(payload.DistFile)
		if err != nil {
			return nil, fmt.Errorf("failed to encode dist file: %w", err)
		}
	}
	distFile, err := canonicalJSON(rawDistFile, signatureMember)
	if err != nil {
		return nil, fmt.Errorf("failed to decode dist file: %w", err)
	}

	var message bytes.Buffer
	message.WriteString(`{"distFile":`)
	message.Write(distFile)
	message.WriteString(`,"assets":[`)
	for i, asset := range payload.Assets {
		content, err := canonicalJSON(asset.Buffer, "")
		if err != nil {
			return nil, fmt.Errorf("asset %s is not structured data: %w", asset.File, err)
		}
		if i > 0 {
			message.WriteByte(',')
		}
		message.Write(content)
	}
	message.WriteString(`]}`)
	return message.Bytes(), nil
}
