package registry

import (
	"context"
	"crypto/tls"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"

	manifestV2 "github.com/distribution/distribution/manifest/schema2"
	"github.com/opencontainers/go-digest"
	"github.com/sirupsen/logrus"
	"golang.org/x/net/context/ctxhttp"
)

// Options configures the transport used to talk to the registry.
type Options struct {
	// InsecureSkipVerify disables TLS certificate verification.
	InsecureSkipVerify bool
	Username           string
	Password           string
	// Logger receives per-request debug lines, defaults to the standard logger.
	Logger logrus.FieldLogger
}

type DockerRegistry struct {
	URL      string
	Client   *http.Client
	log      logrus.FieldLogger
	username string
	password string
}

type tagList struct {
	Name string   `json:"name"`
	Tags []string `json:"tags"`
}

type request struct {
	method string
	header http.Header
}

type requestOption func(*request)

func withMethod(method string) requestOption {
	return func(r *request) {
		r.method = method
	}
}

func withHeader(key, value string) requestOption {
	return func(r *request) {
		r.header.Set(key, value)
	}
}

// NewRegistry returns a client for the v2 API rooted at url, e.g. https://registry.example.com/v2.
func NewRegistry(url string, opts Options) Registry {
	u := strings.TrimSuffix(url, "/")
	transport := http.DefaultTransport.(*http.Transport).Clone()
	if opts.InsecureSkipVerify {
		transport.TLSClientConfig = &tls.Config{InsecureSkipVerify: true}
	}
	log := opts.Logger
	if log == nil {
		log = logrus.StandardLogger()
	}
	return &DockerRegistry{
		URL: u,
		Client: &http.Client{
			Transport: transport,
		},
		log:      log,
		username: opts.Username,
		password: opts.Password,
	}
}

// escape percent-encodes a single path segment, including '/', '@' and ':'.
func escape(segment string) string {
	return strings.ReplaceAll(url.QueryEscape(segment), "+", "%20")
}

func (r *DockerRegistry) url(suffix string) string {
	return fmt.Sprintf("%s%s", r.URL, suffix)
}

func (r *DockerRegistry) Ping(ctx context.Context) error {
	if _, err := r.send(ctx, "/", nil); err != nil {
		return fmt.Errorf("ping failed: %w", err)
	}
	return nil
}

func (r *DockerRegistry) Tags(ctx context.Context, repo string) ([]string, error) {
	list := tagList{}
	if _, err := r.send(ctx, fmt.Sprintf("/%s/tags/list", escape(repo)), &list); err != nil {
		return nil, err
	}
	return list.Tags, nil
}

// ManifestDigest returns the config digest of the manifest referenced by ref.
// A manifest without a config digest yields an empty digest.
func (r *DockerRegistry) ManifestDigest(ctx context.Context, repo string, ref string) (digest.Digest, error) {
	m := manifestV2.Manifest{}
	if _, err := r.send(ctx, fmt.Sprintf("/%s/manifests/%s", escape(repo), escape(ref)), &m); err != nil {
		return "", err
	}
	return m.Config.Digest, nil
}

// ManifestDelete deletes the manifest named by dgst. The body of a 200
// response must be JSON and is returned alongside the status.
func (r *DockerRegistry) ManifestDelete(ctx context.Context, repo string, dgst digest.Digest) (int, json.RawMessage, error) {
	var body json.RawMessage
	status, err := r.send(ctx, fmt.Sprintf("/%s/manifests/%s", escape(repo), escape(dgst.String())), &body, withMethod(http.MethodDelete))
	if err != nil {
		return status, nil, err
	}
	return status, body, nil
}

// send performs one round-trip against path. A 200 response is decoded into out
// unless out is nil, any other 2xx status is returned as is.
func (r *DockerRegistry) send(ctx context.Context, path string, out interface{}, opts ...requestOption) (int, error) {
	rq := &request{
		method: http.MethodGet,
		header: http.Header{},
	}
	rq.header.Set("Accept", manifestV2.MediaTypeManifest)
	for _, opt := range opts {
		opt(rq)
	}

	url := r.url(path)
	r.log.Debugf("registry: %s %s", rq.method, url)
	req, err := http.NewRequest(rq.method, url, nil)
	if err != nil {
		return 0, err
	}
	for k, v := range rq.header {
		req.Header[k] = v
	}
	if r.username != "" && r.password != "" {
		req.SetBasicAuth(r.username, r.password)
	}

	resp, err := ctxhttp.Do(ctx, r.Client, req)
	if resp != nil {
		defer resp.Body.Close()
	}
	if err != nil {
		return 0, err
	}

	data, err := io.ReadAll(resp.Body)
	if err != nil {
		return 0, err
	}

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return resp.StatusCode, &RequestFailedError{StatusCode: resp.StatusCode}
	}

	if resp.StatusCode != http.StatusOK {
		return resp.StatusCode, nil
	}

	if out == nil {
		return resp.StatusCode, nil
	}
	if err := json.Unmarshal(data, out); err != nil {
		return resp.StatusCode, &DecodeFailedError{Err: err, Body: string(data)}
	}
	return resp.StatusCode, nil
}
