package identity

import (
	"crypto/ed25519"
	"encoding/hex"
	"encoding/json"
)

type Role string

const (
	RoleAdmin     Role = "admin"
	RoleSubmitter Role = "submitter"
)

func (r Role) String() string {
	return string(r)
}

// SubmitterData is the registry's view of a principal: its signing key, its role, whether it may
// currently submit commitments, and how many commitments it has had accepted. Revoking
// authorization clears Allowed but keeps the record so the commitment count stays auditable.
type SubmitterData struct {
	PublicKey   ed25519.PublicKey `json:"public_key"`
	Role        Role              `json:"role"`
	Allowed     bool              `json:"allowed"`
	Commitments uint64            `json:"commitments"`
}

func (s SubmitterData) IsAdmin() bool {
	return s.Role == RoleAdmin
}

// MarshalJSON Custom marshaller to encode public key as hex string
func (s SubmitterData) MarshalJSON() ([]byte, error) {
	return json.Marshal(struct {
		PublicKey   string `json:"public_key"`
		Role        Role   `json:"role"`
		Allowed     bool   `json:"allowed"`
		Commitments uint64 `json:"commitments"`
	}{
		PublicKey:   hex.EncodeToString(s.PublicKey),
		Role:        s.Role,
		Allowed:     s.Allowed,
		Commitments: s.Commitments,
	})
}

// UnmarshalJSON Custom unmarshaller to decode public key from hex string
func (s *SubmitterData) UnmarshalJSON(data []byte) error {
	var aux struct {
		PublicKey   string `json:"public_key"`
		Role        Role   `json:"role"`
		Allowed     bool   `json:"allowed"`
		Commitments uint64 `json:"commitments"`
	}

	if err := json.Unmarshal(data, &aux); err != nil {
		return err
	}

	publicKey, err := hex.DecodeString(aux.PublicKey)
	if err != nil {
		return err
	}

	s.PublicKey = publicKey
	s.Role = aux.Role
	s.Allowed = aux.Allowed
	s.Commitments = aux.Commitments

	return nil
}
