package registry

import (
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"fmt"
)

// Hash32 is a fixed 32-byte value (batch ids, merkle roots, state roots), hex-encoded in JSON.
type Hash32 [32]byte

var ZeroHash Hash32

func NewHash32(b []byte) (Hash32, error) {
	if len(b) != 32 {
		return Hash32{}, fmt.Errorf("expected 32 bytes, got %d", len(b))
	}

	var h Hash32
	copy(h[:], b)
	return h, nil
}

func ParseHash32(s string) (Hash32, error) {
	raw, err := hex.DecodeString(s)
	if err != nil {
		return Hash32{}, err
	}

	return NewHash32(raw)
}

func Sha256(data ...[]byte) Hash32 {
	digest := sha256.New()
	for _, d := range data {
		digest.Write(d)
	}

	var h Hash32
	copy(h[:], digest.Sum(nil))
	return h
}

func (h Hash32) IsZero() bool {
	return h == ZeroHash
}

func (h Hash32) Bytes() []byte {
	return h[:]
}

func (h Hash32) String() string {
	return hex.EncodeToString(h[:])
}

func (h Hash32) MarshalJSON() ([]byte, error) {
	return json.Marshal(h.String())
}

func (h *Hash32) UnmarshalJSON(data []byte) error {
	var s string
	if err := json.Unmarshal(data, &s); err != nil {
		return err
	}

	parsed, err := ParseHash32(s)
	if err != nil {
		return err
	}

	*h = parsed
	return nil
}

// TenantStoreKey partitions chain-head state per tenant/store pair. It is derived on demand,
// never stored alongside the pair itself.
type TenantStoreKey Hash32

func DeriveTenantStoreKey(tenantId, storeId Hash32) TenantStoreKey {
	return TenantStoreKey(Sha256(tenantId[:], storeId[:]))
}

func (k TenantStoreKey) Bytes() []byte {
	return k[:]
}

func (k TenantStoreKey) String() string {
	return hex.EncodeToString(k[:])
}

func (k TenantStoreKey) MarshalJSON() ([]byte, error) {
	return json.Marshal(k.String())
}

func (k *TenantStoreKey) UnmarshalJSON(data []byte) error {
	var h Hash32
	if err := h.UnmarshalJSON(data); err != nil {
		return err
	}

	*k = TenantStoreKey(h)
	return nil
}
