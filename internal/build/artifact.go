package build

import (
	"encoding/hex"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/zeebo/xxh3"
)

// Artifact is a compiled module produced by the toolchain. It is never
// mutated after creation; the cache hands out the same pointer to every
// reader.
type Artifact struct {
	ID         string
	Name       string
	Payload    []byte
	Size       int
	Checksum   string
	CompiledAt time.Time
}

// ArtifactInfo is the metadata view of an artifact, without its payload.
type ArtifactInfo struct {
	ModuleID   string `json:"moduleId"`
	ModuleName string `json:"moduleName"`
	Size       int    `json:"size"`
	Checksum   string `json:"checksum"`
	CompiledAt int64  `json:"compiledAt"`
}

// NewArtifact wraps a payload with a freshly generated module id.
func NewArtifact(name string, payload []byte, compiledAt time.Time) *Artifact {
	return &Artifact{
		ID:         GenerateModuleID(name, compiledAt),
		Name:       name,
		Payload:    payload,
		Size:       len(payload),
		Checksum:   Checksum(payload),
		CompiledAt: compiledAt,
	}
}

// Info returns the artifact metadata.
func (a *Artifact) Info() ArtifactInfo {
	return ArtifactInfo{
		ModuleID:   a.ID,
		ModuleName: a.Name,
		Size:       a.Size,
		Checksum:   a.Checksum,
		CompiledAt: a.CompiledAt.UnixMilli(),
	}
}

// GenerateModuleID derives an id of the form <name>_<unixMillis>_<random>.
// The random part is the 48 low bits of a v4 UUID.
func GenerateModuleID(name string, at time.Time) string {
	id := uuid.New()
	return fmt.Sprintf("%s_%d_%s", name, at.UnixMilli(), hex.EncodeToString(id[10:]))
}

// Checksum returns the xxh3 digest of payload as 16 hex digits.
func Checksum(payload []byte) string {
	return fmt.Sprintf("%016x", xxh3.Hash(payload))
}
