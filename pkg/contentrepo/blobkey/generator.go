package blobkey

import (
	"fmt"
	"strings"

	"github.com/google/uuid"
)

// Generator defines how blob keys are derived for binary field data
type Generator interface {
	// GenerateKey creates the storage key for a new blob
	GenerateKey(blobID uuid.UUID, metadata *KeyMetadata) string
}

// KeyMetadata contains information that influences key generation
type KeyMetadata struct {
	FileName    string
	ContentType string
	// NodeID is the content the blob belongs to, 0 while it is not yet saved
	NodeID int
	Field  string
}

// FlatGenerator stores every blob under blobs/{id}[/{filename}]
type FlatGenerator struct{}

func NewFlatGenerator() *FlatGenerator {
	return &FlatGenerator{}
}

func (g *FlatGenerator) GenerateKey(blobID uuid.UUID, metadata *KeyMetadata) string {
	if metadata != nil && metadata.FileName != "" {
		return fmt.Sprintf("blobs/%s/%s", blobID, sanitizeFilename(metadata.FileName))
	}
	return fmt.Sprintf("blobs/%s", blobID)
}

// GitLikeGenerator provides Git-style sharded keys
// Structure: binaries/ab/cd1234ef5678_filename
type GitLikeGenerator struct {
	// ShardLength controls how many characters to use for sharding (default: 2)
	ShardLength int
}

func NewGitLikeGenerator() *GitLikeGenerator {
	return &GitLikeGenerator{ShardLength: 2}
}

func (g *GitLikeGenerator) GenerateKey(blobID uuid.UUID, metadata *KeyMetadata) string {
	id := strings.ReplaceAll(blobID.String(), "-", "")
	shard := g.ShardLength
	if shard <= 0 || shard > len(id) {
		shard = 2
	}

	name := id[shard:]
	if metadata != nil && metadata.FileName != "" {
		name = fmt.Sprintf("%s_%s", name, sanitizeFilename(metadata.FileName))
	}
	return fmt.Sprintf("binaries/%s/%s", id[:shard], name)
}

// FuncGenerator adapts a function to the Generator interface
type FuncGenerator func(blobID uuid.UUID, metadata *KeyMetadata) string

func (f FuncGenerator) GenerateKey(blobID uuid.UUID, metadata *KeyMetadata) string {
	return f(blobID, metadata)
}

func sanitizeFilename(filename string) string {
	replacer := strings.NewReplacer(
		"/", "_",
		"\\", "_",
		":", "_",
		"*", "_",
		"?", "_",
		"\"", "_",
		"<", "_",
		">", "_",
		"|", "_",
		" ", "_",
	)
	return replacer.Replace(filename)
}
