package registry

import (
	"context"
	"encoding/json"

	"github.com/opencontainers/go-digest"
)

type Registry interface {
	Ping(ctx context.Context) error
	Tags(ctx context.Context, repo string) ([]string, error)
	ManifestDigest(ctx context.Context, repo string, ref string) (digest.Digest, error)
	ManifestDelete(ctx context.Context, repo string, dgst digest.Digest) (int, json.RawMessage, error)
}
