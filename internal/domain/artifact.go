package domain

import (
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"strconv"
	"time"
)

// ArtifactKind names the family an artifact belongs to.
type ArtifactKind string

const (
	// ArtifactKindCollection is the accumulating candidate set of a session.
	ArtifactKindCollection ArtifactKind = "collection"
)

// Artifact is an immutable, versioned snapshot. Key groups the versions of
// one logical artifact (for collections, the session id).
type Artifact struct {
	ID        string            `json:"id"`
	Kind      ArtifactKind      `json:"kind"`
	Key       string            `json:"key"`
	Version   int               `json:"version"`
	Data      json.RawMessage   `json:"data"`
	CreatedAt time.Time         `json:"created_at"`
	Meta      map[string]string `json:"meta,omitempty"`
}

// ContentAddress computes the artifact id from kind, key, version and data.
func ContentAddress(kind ArtifactKind, key string, version int, data []byte) string {
	h := sha256.New()
	h.Write([]byte(kind))
	h.Write([]byte{0})
	h.Write([]byte(key))
	h.Write([]byte{0})
	h.Write([]byte(strconv.Itoa(version)))
	h.Write([]byte{0})
	h.Write(data)
	return hex.EncodeToString(h.Sum(nil))
}

// CollectionData is the data of a collection artifact.
type CollectionData struct {
	Items []string `json:"items"`
}
