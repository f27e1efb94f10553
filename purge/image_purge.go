package purge

import (
	"context"
	"runtime"
	"time"

	"github.com/opencontainers/go-digest"
	"github.com/pkg/errors"
	"github.com/sirupsen/logrus"
	"golang.org/x/sync/errgroup"

	"github.com/luojun96/ipurge/pool"
	"github.com/luojun96/ipurge/registry"
)

type task[T any] struct {
	t      T
	r      registry.Registry
	exec   func(ctx context.Context, t T, r registry.Registry) Result
	result Result
}

func (t *task[T]) Execute(ctx context.Context) {
	t.result = t.exec(ctx, t.t, t.r)
}

type imagePurge struct {
	r           registry.Registry
	concurrency int
	log         logrus.FieldLogger
}

type Option func(*imagePurge)

// WithConcurrency bounds the number of requests in flight during a phase.
func WithConcurrency(n int) Option {
	return func(p *imagePurge) {
		if n > 0 {
			p.concurrency = n
		}
	}
}

func WithLogger(log logrus.FieldLogger) Option {
	return func(p *imagePurge) {
		p.log = log
	}
}

func NewImagePurge(r registry.Registry, opts ...Option) ArtifactPurge {
	p := &imagePurge{
		r:           r,
		concurrency: runtime.GOMAXPROCS(0),
		log:         logrus.StandardLogger(),
	}
	for _, opt := range opts {
		opt(p)
	}
	return p
}

// Purge deletes every manifest tagged under image. Listing tags and resolving
// digests are all-or-nothing; deletions are settled individually and never
// fail the run.
func (p *imagePurge) Purge(ctx context.Context, image string) (*Report, error) {
	start := time.Now()
	p.log.Debugf("concurrency: %d", p.concurrency)

	p.log.Infof("Reading tags for the image %s...", image)
	tags, err := p.r.Tags(ctx, image)
	if err != nil {
		return nil, errors.Wrapf(err, "failed to list tags of %s", image)
	}

	p.log.Infof("Found %d tags. Reading image digests...", len(tags))
	digests, err := p.resolveDigests(ctx, image, tags)
	if err != nil {
		return nil, errors.Wrapf(err, "failed to resolve digests of %s", image)
	}

	p.log.Infof("Digests loaded successfully. Deleting all images with name %s...", image)
	outcomes := p.deleteManifests(ctx, image, digests)

	report := &Report{
		Image:    image,
		Tags:     tags,
		Outcomes: outcomes,
	}
	p.log.Infof("[%vs] %d of %d deletions rejected.", int(time.Since(start).Seconds()), len(report.Rejected()), len(outcomes))
	return report, nil
}

// resolveDigests looks up the config digest of every tag, preserving tag
// order. The first failure cancels the lookups still in flight.
func (p *imagePurge) resolveDigests(ctx context.Context, image string, tags []string) ([]digest.Digest, error) {
	digests := make([]digest.Digest, len(tags))
	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(p.concurrency)
	for i, tag := range tags {
		i, tag := i, tag
		g.Go(func() error {
			d, err := p.r.ManifestDigest(gctx, image, tag)
			if err != nil {
				return errors.Wrapf(err, "failed to get manifest of %s:%s", image, tag)
			}
			if d == "" {
				p.log.Warnf("manifest of %s:%s has no config digest", image, tag)
			}
			digests[i] = d
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return nil, err
	}
	return digests, nil
}

func (p *imagePurge) deleteManifests(ctx context.Context, image string, digests []digest.Digest) []Outcome {
	var handler = func(ctx context.Context, d digest.Digest, r registry.Registry) Result {
		status, body, err := r.ManifestDelete(ctx, image, d)
		if err != nil {
			p.log.Debugf("failed to delete manifest %s@%s: %v", image, d, err)
			return Rejected(err)
		}
		p.log.Debugf("deleted manifest %s@%s, status code: %d", image, d, status)
		return Fulfilled(status, body)
	}

	wp := pool.NewWorkPool(p.concurrency)
	wp.Logger = p.log
	tasks := make([]*task[digest.Digest], 0, len(digests))
	for _, d := range digests {
		t := &task[digest.Digest]{
			t:    d,
			r:    p.r,
			exec: handler,
		}
		tasks = append(tasks, t)
		wp.AddTask(t)
	}
	wp.Run(ctx)

	outcomes := make([]Outcome, 0, len(tasks))
	for _, t := range tasks {
		outcomes = append(outcomes, Outcome{Digest: t.t, Result: t.result})
	}
	return outcomes
}
