package image

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"errors"
	"fmt"
	"sort"
	"time"

	"github.com/distribution/reference"
	"github.com/rs/zerolog"

	"github.com/vladmesh/codegen-orchestrator-sub002/pkg/log"
	"github.com/vladmesh/codegen-orchestrator-sub002/pkg/metrics"
	"github.com/vladmesh/codegen-orchestrator-sub002/pkg/storage"
	"github.com/vladmesh/codegen-orchestrator-sub002/pkg/types"
)

// Namespace is the repository prefix for all worker images. Garbage
// collection never touches references outside it.
const Namespace = "agentd/worker"

// tagLen is how many hash characters go into the image tag
const tagLen = 12

// buildEngine is the slice of the container engine the builder needs
type buildEngine interface {
	BuildImage(ctx context.Context, ref string, dockerfile []byte, labels map[string]string) (string, error)
	ImageExists(ctx context.Context, ref string) (bool, error)
}

// Builder derives deterministic image references from worker configurations
// and builds the backing image on cache miss
type Builder struct {
	engine buildEngine
	store  storage.Store
	logger zerolog.Logger
	now    func() time.Time
}

// NewBuilder creates an image builder backed by the given engine and
// metadata store
func NewBuilder(eng buildEngine, store storage.Store) *Builder {
	return &Builder{
		engine: eng,
		store:  store,
		logger: log.WithComponent("image-builder"),
		now:    time.Now,
	}
}

// CacheKey computes the deterministic content hash for an agent type and
// capability set. Capability ordering and duplicates do not affect the
// result; distinct agent types never collide.
func CacheKey(agentType types.AgentType, caps []types.Capability) string {
	canon := struct {
		Agent        types.AgentType    `json:"agent"`
		Capabilities []types.Capability `json:"capabilities"`
	}{
		Agent:        agentType,
		Capabilities: canonicalCapabilities(caps),
	}
	raw, err := json.Marshal(canon)
	if err != nil {
		// Marshaling two strings and a string slice cannot fail
		panic(err)
	}
	sum := sha256.Sum256(raw)
	return hex.EncodeToString(sum[:])
}

// Ref returns the image reference for a cache hash
func Ref(hash string) string {
	return fmt.Sprintf("%s:%s", Namespace, hash[:tagLen])
}

// canonicalCapabilities sorts and deduplicates the capability set. Always
// returns a non-nil slice so the JSON form is stable.
func canonicalCapabilities(caps []types.Capability) []types.Capability {
	out := make([]types.Capability, 0, len(caps))
	seen := make(map[types.Capability]bool, len(caps))
	for _, c := range caps {
		if !seen[c] {
			seen[c] = true
			out = append(out, c)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i] < out[j] })
	return out
}

// EnsureImage returns the reference of an image carrying exactly the tools
// for the given agent type and capability set, building it if no cached
// image exists. The expensive build path runs at most once per distinct
// configuration; subsequent calls only refresh the cache entry's last-used
// timestamp.
func (b *Builder) EnsureImage(ctx context.Context, agentType types.AgentType, caps []types.Capability) (string, error) {
	if !agentType.Valid() {
		return "", &types.ConfigurationError{Reason: fmt.Sprintf("unknown agent type: %q", agentType)}
	}

	hash := CacheKey(agentType, caps)
	ref := Ref(hash)
	if _, err := reference.ParseNormalizedNamed(ref); err != nil {
		return "", fmt.Errorf("derived image reference %q is invalid: %w", ref, err)
	}

	logger := b.logger.With().Str("hash", hash[:tagLen]).Str("image", ref).Logger()

	entry, err := b.store.GetImage(hash)
	if err != nil && !errors.Is(err, storage.ErrNotFound) {
		return "", fmt.Errorf("failed to read image cache: %w", err)
	}
	if err == nil {
		exists, err := b.engine.ImageExists(ctx, entry.ImageRef)
		if err != nil {
			return "", err
		}
		if exists {
			entry.LastUsedAt = b.now()
			if err := b.store.SaveImage(entry); err != nil {
				return "", fmt.Errorf("failed to touch image cache entry: %w", err)
			}
			logger.Debug().Msg("Image cache hit")
			return entry.ImageRef, nil
		}
		// Cache entry survived but the image was removed behind our
		// back; fall through and rebuild under the same hash.
		logger.Warn().Msg("Cached image missing from engine, rebuilding")
	}

	dockerfile := Dockerfile(agentType, caps)
	logger.Info().Msg("Building worker image")

	output, err := b.engine.BuildImage(ctx, ref, dockerfile, map[string]string{
		"agentd.hash":  hash,
		"agentd.agent": string(agentType),
	})
	if err != nil {
		metrics.ImageBuildsTotal.WithLabelValues("error").Inc()
		return "", &types.ImageBuildError{Hash: hash, Output: output, Err: err}
	}
	metrics.ImageBuildsTotal.WithLabelValues("success").Inc()

	now := b.now()
	if err := b.store.SaveImage(&types.ImageCacheEntry{
		Hash:         hash,
		ImageRef:     ref,
		Agent:        agentType,
		Capabilities: canonicalCapabilities(caps),
		CreatedAt:    now,
		LastUsedAt:   now,
	}); err != nil {
		return "", fmt.Errorf("failed to record image cache entry: %w", err)
	}

	logger.Info().Msg("Worker image built")
	return ref, nil
}
