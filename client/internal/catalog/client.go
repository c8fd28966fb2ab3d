package catalog

import (
	"context"
	"crypto/ed25519"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	log "github.com/sirupsen/logrus"
)

const (
	indexFile     = "index.json"
	signatureFile = "index.json.sig"

	// maxIndexSize bounds the index payload so a misbehaving repository
	// cannot exhaust memory.
	maxIndexSize     = 8 * 1024 * 1024
	maxSignatureSize = 4 * 1024

	fetchTimeout = 60 * time.Second
)

// Client fetches the application index from a repository.
type Client interface {
	FetchIndex(ctx context.Context) (*Index, error)
}

// HTTPClient downloads the signed index over HTTP and verifies it against
// the repository signing key before parsing.
type HTTPClient struct {
	baseURL   *url.URL
	publicKey ed25519.PublicKey
	client    *http.Client
}

// NewHTTPClient creates a catalog client for the repository at baseURL.
// publicKeyHex is the hex encoded ed25519 repository signing key; an empty
// key disables signature verification, which is only acceptable for local
// development repositories.
func NewHTTPClient(baseURL, publicKeyHex string) (*HTTPClient, error) {
	u, err := url.Parse(baseURL)
	if err != nil {
		return nil, fmt.Errorf("parse repository url: %w", err)
	}

	c := &HTTPClient{
		baseURL: u,
		client:  &http.Client{Timeout: fetchTimeout},
	}

	if publicKeyHex == "" {
		log.Warnf("no repository signing key configured, index signature verification is disabled")
		return c, nil
	}

	key, err := hex.DecodeString(publicKeyHex)
	if err != nil {
		return nil, fmt.Errorf("decode repository signing key: %w", err)
	}
	if len(key) != ed25519.PublicKeySize {
		return nil, fmt.Errorf("repository signing key must be %d bytes, got %d", ed25519.PublicKeySize, len(key))
	}
	c.publicKey = ed25519.PublicKey(key)
	return c, nil
}

// FetchIndex downloads, verifies and parses the repository index. Failures
// are returned as *FetchError so callers can distinguish network, transport
// security, integrity and malformed-payload conditions.
func (c *HTTPClient) FetchIndex(ctx context.Context) (*Index, error) {
	payload, err := c.fetchFile(ctx, indexFile, maxIndexSize)
	if err != nil {
		return nil, err
	}

	if c.publicKey != nil {
		if err := c.verifySignature(ctx, payload); err != nil {
			return nil, err
		}
	}

	var index Index
	if err := json.Unmarshal(payload, &index); err != nil {
		return nil, newFetchError(FailureMalformed, fmt.Errorf("parse index: %w", err))
	}
	if err := index.Validate(); err != nil {
		return nil, newFetchError(FailureMalformed, err)
	}

	log.Debugf("fetched index with %d packages, generated at %s", len(index.Apps), index.GeneratedAt)
	return &index, nil
}

func (c *HTTPClient) verifySignature(ctx context.Context, payload []byte) error {
	sigHex, err := c.fetchFile(ctx, signatureFile, maxSignatureSize)
	if err != nil {
		return err
	}

	signature, err := hex.DecodeString(strings.TrimSpace(string(sigHex)))
	if err != nil {
		return newFetchError(FailureIntegrity, fmt.Errorf("decode index signature: %w", err))
	}
	if !ed25519.Verify(c.publicKey, payload, signature) {
		return newFetchError(FailureIntegrity, fmt.Errorf("index signature does not match the repository signing key"))
	}
	return nil
}

func (c *HTTPClient) fetchFile(ctx context.Context, name string, limit int64) ([]byte, error) {
	fileURL := c.baseURL.JoinPath(name).String()

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, fileURL, nil)
	if err != nil {
		return nil, newFetchError(FailureNetwork, fmt.Errorf("create request for %s: %w", fileURL, err))
	}

	resp, err := c.client.Do(req)
	if err != nil {
		return nil, classifyTransport(err)
	}
	defer func() {
		if err := resp.Body.Close(); err != nil {
			log.Warnf("failed closing response body for %s: %v", fileURL, err)
		}
	}()

	if resp.StatusCode != http.StatusOK {
		return nil, newFetchError(FailureNetwork, fmt.Errorf("fetch %s: unexpected status %d", name, resp.StatusCode))
	}

	reader := io.LimitReader(resp.Body, limit)
	data, err := io.ReadAll(reader)
	if err != nil {
		return nil, classifyTransport(fmt.Errorf("read %s: %w", name, err))
	}
	return data, nil
}
