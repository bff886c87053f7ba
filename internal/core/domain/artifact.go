package domain

import "fmt"

// Artifact kinds.
const (
	KindMetagraph     = "metagraph"
	KindMetagraphLite = "metagraph-lite"
)

// ArtifactKey addresses one stored snapshot.
type ArtifactKey struct {
	Block  uint64
	Netuid uint16
	Kind   string
}

// Path derives the storage path. It is a pure function of the key.
func (k ArtifactKey) Path() string {
	return fmt.Sprintf("data/bittensor/%s/%d/%d.json", k.Kind, k.Netuid, k.Block)
}

// KindFor returns the artifact kind for a lite or full fetch.
func KindFor(lite bool) string {
	if lite {
		return KindMetagraphLite
	}
	return KindMetagraph
}
