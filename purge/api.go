package purge

import "context"

type ArtifactPurge interface {
	Purge(ctx context.Context, image string) (*Report, error)
}
