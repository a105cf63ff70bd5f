// Copyright 2026 The aisds Authors. SPDX-License-Identifier: Apache-2.0

// Package client is a minimal read-side client of an AIStore-style
// object-storage proxy: objects are fetched with plain HTTP GETs of the form
// `{proxy}/v1/objects/{bucket}/{object}`, and sets of objects are named by
// brace-range templates such as "train-{0..3}.tar.xz".
package client

import (
	"context"
	"io"
	"net/http"
	"net/url"
	"time"

	"github.com/pkg/errors"
	"k8s.io/klog/v2"
)

const objectsPath = "/v1/objects"

// Client fetches objects of one bucket from an object-storage proxy.
type Client struct {
	proxyURL string
	bucket   string
	http     *http.Client
}

// New creates a Client for the given bucket behind the proxy at proxyURL,
// e.g. New("http://localhost:8080", "lb").
func New(proxyURL, bucket string) *Client {
	return &Client{
		proxyURL: proxyURL,
		bucket:   bucket,
		http:     &http.Client{Timeout: 10 * time.Minute},
	}
}

// WithHTTPClient replaces the underlying http.Client. Returns the Client to
// allow chaining.
func (c *Client) WithHTTPClient(httpClient *http.Client) *Client {
	c.http = httpClient
	return c
}

// Bucket returns the bucket this client reads from.
func (c *Client) Bucket() string { return c.bucket }

// ObjectURL returns the proxy URL from which the named object is fetched.
func (c *Client) ObjectURL(name string) string {
	return c.proxyURL + objectsPath + "/" + url.PathEscape(c.bucket) + "/" + url.PathEscape(name)
}

// GetObject fetches one object and returns its contents as a stream, along
// with the content length (-1 if unknown). The caller owns closing the
// returned reader.
func (c *Client) GetObject(ctx context.Context, name string) (io.ReadCloser, int64, error) {
	objURL := c.ObjectURL(name)
	klog.V(2).Infof("GET %s", objURL)
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, objURL, nil)
	if err != nil {
		return nil, 0, errors.Wrapf(err, "failed to build request for object %s/%s", c.bucket, name)
	}
	resp, err := c.http.Do(req)
	if err != nil {
		return nil, 0, errors.Wrapf(err, "failed to fetch object %s/%s from %q", c.bucket, name, c.proxyURL)
	}
	if resp.StatusCode != http.StatusOK {
		body, _ := io.ReadAll(io.LimitReader(resp.Body, 512))
		_ = resp.Body.Close()
		return nil, 0, errors.Errorf("fetching object %s/%s: proxy returned %s: %s",
			c.bucket, name, resp.Status, string(body))
	}
	return resp.Body, resp.ContentLength, nil
}

// GetObjectBytes fetches one object fully into memory.
func (c *Client) GetObjectBytes(ctx context.Context, name string) ([]byte, error) {
	body, _, err := c.GetObject(ctx, name)
	if err != nil {
		return nil, err
	}
	defer func() { _ = body.Close() }()
	data, err := io.ReadAll(body)
	if err != nil {
		return nil, errors.Wrapf(err, "failed reading object %s/%s", c.bucket, name)
	}
	return data, nil
}
