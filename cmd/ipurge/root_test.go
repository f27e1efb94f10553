package main

import (
	"bytes"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"

	qt "github.com/frankban/quicktest"
)

func newFakeRegistry(c *qt.C, tagsStatus int) (*httptest.Server, *int64) {
	var hits int64
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, req *http.Request) {
		atomic.AddInt64(&hits, 1)
		switch req.Method + " " + req.URL.EscapedPath() {
		case "GET /v2/":
			w.Write([]byte(`{}`))
		case "GET /v2/myimage/tags/list":
			w.WriteHeader(tagsStatus)
			w.Write([]byte(`{"name":"myimage","tags":["v1","v2"]}`))
		case "GET /v2/myimage/manifests/v1":
			w.Write([]byte(`{"schemaVersion":2,"config":{"digest":"sha256:aaa"}}`))
		case "GET /v2/myimage/manifests/v2":
			w.Write([]byte(`{"schemaVersion":2,"config":{"digest":"sha256:bbb"}}`))
		case "DELETE /v2/myimage/manifests/sha256%3Aaaa":
			w.WriteHeader(http.StatusAccepted)
		default:
			w.WriteHeader(http.StatusNotFound)
		}
	}))
	c.Cleanup(srv.Close)
	return srv, &hits
}

func TestRun(t *testing.T) {
	c := qt.New(t)

	c.Run("wrong argument count is a usage error without network traffic", func(c *qt.C) {
		srv, hits := newFakeRegistry(c, http.StatusOK)
		for _, args := range [][]string{
			{"--registry", srv.URL + "/v2"},
			{"--registry", srv.URL + "/v2", "one", "two"},
		} {
			var stdout, stderr bytes.Buffer
			code := run(args, &stdout, &stderr)
			c.Assert(code, qt.Equals, exitUsage)
			c.Assert(stderr.String(), qt.Contains, "Usage: ipurge IMAGE")
		}
		c.Assert(atomic.LoadInt64(hits), qt.Equals, int64(0))
	})

	c.Run("unknown flag is a usage error", func(c *qt.C) {
		var stdout, stderr bytes.Buffer
		code := run([]string{"--bogus", "myimage"}, &stdout, &stderr)
		c.Assert(code, qt.Equals, exitUsage)
	})

	c.Run("unsupported output format is a usage error", func(c *qt.C) {
		srv, hits := newFakeRegistry(c, http.StatusOK)
		var stdout, stderr bytes.Buffer
		code := run([]string{"--registry", srv.URL + "/v2", "-o", "xml", "myimage"}, &stdout, &stderr)
		c.Assert(code, qt.Equals, exitUsage)
		c.Assert(atomic.LoadInt64(hits), qt.Equals, int64(0))
	})

	c.Run("settled outcomes are reported and the run succeeds", func(c *qt.C) {
		srv, _ := newFakeRegistry(c, http.StatusOK)
		var stdout, stderr bytes.Buffer
		code := run([]string{"--registry", srv.URL + "/v2", "myimage"}, &stdout, &stderr)
		c.Assert(code, qt.Equals, exitOK, qt.Commentf("stderr: %s", stderr.String()))

		out := stdout.String()
		c.Assert(out, qt.Contains, "Found 2 tags")
		c.Assert(out, qt.Contains, `"digest": "sha256:aaa"`)
		c.Assert(out, qt.Contains, `"status": "fulfilled"`)
		c.Assert(out, qt.Contains, `"value": 202`)
		c.Assert(out, qt.Contains, `"digest": "sha256:bbb"`)
		c.Assert(out, qt.Contains, `"status": "rejected"`)
		c.Assert(out, qt.Contains, "Done")
	})

	c.Run("yaml report", func(c *qt.C) {
		srv, _ := newFakeRegistry(c, http.StatusOK)
		var stdout, stderr bytes.Buffer
		code := run([]string{"--registry", srv.URL + "/v2", "-o", "yaml", "myimage"}, &stdout, &stderr)
		c.Assert(code, qt.Equals, exitOK)
		c.Assert(stdout.String(), qt.Contains, "- digest: ")
		c.Assert(stdout.String(), qt.Contains, "sha256:aaa")
		c.Assert(stdout.String(), qt.Contains, "status: rejected")
	})

	c.Run("registry ping with an empty body does not abort the run", func(c *qt.C) {
		srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, req *http.Request) {
			switch req.Method + " " + req.URL.EscapedPath() {
			case "GET /v2/":
				w.WriteHeader(http.StatusOK)
			case "GET /v2/myimage/tags/list":
				w.Write([]byte(`{"tags":[]}`))
			default:
				w.WriteHeader(http.StatusNotFound)
			}
		}))
		c.Cleanup(srv.Close)

		var stdout, stderr bytes.Buffer
		code := run([]string{"--registry", srv.URL + "/v2", "myimage"}, &stdout, &stderr)
		c.Assert(code, qt.Equals, exitOK, qt.Commentf("stderr: %s", stderr.String()))
		c.Assert(stdout.String(), qt.Contains, "Found 0 tags")
		c.Assert(stdout.String(), qt.Contains, "[]\n")
	})

	c.Run("failed tag listing exits with failure", func(c *qt.C) {
		srv, _ := newFakeRegistry(c, http.StatusInternalServerError)
		var stdout, stderr bytes.Buffer
		code := run([]string{"--registry", srv.URL + "/v2", "myimage"}, &stdout, &stderr)
		c.Assert(code, qt.Equals, exitFailure)
		c.Assert(stderr.String(), qt.Contains, "status code 500")
	})
}
