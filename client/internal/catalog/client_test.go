package catalog

import (
	"context"
	"crypto/ed25519"
	"crypto/rand"
	"encoding/hex"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func testIndex() Index {
	return Index{
		GeneratedAt: time.Date(2025, 6, 1, 12, 0, 0, 0, time.UTC),
		Apps: []Entry{
			{
				PackageID: "io.appdock.example",
				Name:      "Example",
				Variants: []Variant{
					{
						PackageID:   "io.appdock.example",
						Name:        "Example",
						Channel:     DefaultChannel,
						VersionCode: 42,
						VersionName: "1.4.2",
						SHA256:      "9f86d081884c7d659a2feaa0c55ad015a3bf4f1b2b0b822cd15d6c15b0f00a08",
						DownloadURL: "https://repo.example.org/example-1.4.2.pkg",
						SizeBytes:   1024,
					},
					{
						PackageID:   "io.appdock.example",
						Name:        "Example",
						Channel:     "beta",
						VersionCode: 43,
						VersionName: "1.5.0-beta.1",
						SHA256:      "60303ae22b998861bce3b28f33eec1be758a213c86c93c076dbe9f558c11c752",
						DownloadURL: "https://repo.example.org/example-1.5.0-beta.1.pkg",
						SizeBytes:   2048,
					},
				},
			},
			{
				PackageID: "io.appdock.tools",
				Name:      "Tools",
				Variants: []Variant{
					{
						PackageID:   "io.appdock.tools",
						Name:        "Tools",
						Channel:     DefaultChannel,
						VersionCode: 7,
						VersionName: "0.7.0",
						SHA256:      "fd61a03af4f77d870fc21e05e7e80678095c92d808cfb3b5c279ee04c74aca13",
						DownloadURL: "https://repo.example.org/tools-0.7.0.pkg",
						SizeBytes:   512,
					},
				},
			},
		},
	}
}

func serveRepository(t *testing.T, payload, signature []byte) *httptest.Server {
	t.Helper()
	mux := http.NewServeMux()
	mux.HandleFunc("/"+indexFile, func(w http.ResponseWriter, _ *http.Request) {
		_, _ = w.Write(payload)
	})
	mux.HandleFunc("/"+signatureFile, func(w http.ResponseWriter, _ *http.Request) {
		_, _ = w.Write(signature)
	})
	srv := httptest.NewServer(mux)
	t.Cleanup(srv.Close)
	return srv
}

func signPayload(t *testing.T, priv ed25519.PrivateKey, payload []byte) []byte {
	t.Helper()
	return []byte(hex.EncodeToString(ed25519.Sign(priv, payload)))
}

func TestFetchIndexVerifiesSignature(t *testing.T) {
	pub, priv, err := ed25519.GenerateKey(rand.Reader)
	require.NoError(t, err)

	payload, err := json.Marshal(testIndex())
	require.NoError(t, err)

	srv := serveRepository(t, payload, signPayload(t, priv, payload))

	client, err := NewHTTPClient(srv.URL, hex.EncodeToString(pub))
	require.NoError(t, err)

	index, err := client.FetchIndex(context.Background())
	require.NoError(t, err)
	require.Len(t, index.Apps, 2)
	assert.Equal(t, "io.appdock.example", index.Apps[0].PackageID)
}

func TestFetchIndexRejectsTamperedPayload(t *testing.T) {
	pub, priv, err := ed25519.GenerateKey(rand.Reader)
	require.NoError(t, err)

	payload, err := json.Marshal(testIndex())
	require.NoError(t, err)
	signature := signPayload(t, priv, payload)

	tampered := testIndex()
	tampered.Apps[0].Variants[0].VersionCode = 9000
	tamperedPayload, err := json.Marshal(tampered)
	require.NoError(t, err)

	srv := serveRepository(t, tamperedPayload, signature)

	client, err := NewHTTPClient(srv.URL, hex.EncodeToString(pub))
	require.NoError(t, err)

	_, err = client.FetchIndex(context.Background())
	require.Error(t, err)
	assert.Equal(t, FailureIntegrity, Classify(err))
}

func TestFetchIndexRejectsMalformedPayload(t *testing.T) {
	srv := serveRepository(t, []byte("{not json"), nil)

	client, err := NewHTTPClient(srv.URL, "")
	require.NoError(t, err)

	_, err = client.FetchIndex(context.Background())
	require.Error(t, err)
	assert.Equal(t, FailureMalformed, Classify(err))
}

func TestFetchIndexRejectsInvalidIndex(t *testing.T) {
	index := testIndex()
	index.Apps[1].PackageID = index.Apps[0].PackageID
	payload, err := json.Marshal(index)
	require.NoError(t, err)

	srv := serveRepository(t, payload, nil)

	client, err := NewHTTPClient(srv.URL, "")
	require.NoError(t, err)

	_, err = client.FetchIndex(context.Background())
	require.Error(t, err)
	assert.Equal(t, FailureMalformed, Classify(err))
}

func TestFetchIndexUnreachableRepository(t *testing.T) {
	srv := httptest.NewServer(http.NotFoundHandler())
	srv.Close()

	client, err := NewHTTPClient(srv.URL, "")
	require.NoError(t, err)

	_, err = client.FetchIndex(context.Background())
	require.Error(t, err)
	assert.Equal(t, FailureNetwork, Classify(err))
}

func TestVariantFor(t *testing.T) {
	entry := testIndex().Apps[0]

	testCases := []struct {
		name        string
		channel     string
		wantCode    int64
		wantErr     bool
		wantChannel string
	}{
		{
			name:        "preferred channel",
			channel:     "beta",
			wantCode:    43,
			wantChannel: "beta",
		},
		{
			name:        "default channel",
			channel:     DefaultChannel,
			wantCode:    42,
			wantChannel: DefaultChannel,
		},
		{
			name:        "unknown channel falls back to default",
			channel:     "nightly",
			wantCode:    42,
			wantChannel: DefaultChannel,
		},
	}

	for _, tc := range testCases {
		t.Run(tc.name, func(t *testing.T) {
			v, err := entry.VariantFor(tc.channel)
			require.NoError(t, err)
			assert.Equal(t, tc.wantCode, v.VersionCode)
			assert.Equal(t, tc.wantChannel, v.Channel)
		})
	}

	t.Run("no usable channel", func(t *testing.T) {
		entry := Entry{
			PackageID: "io.appdock.nightlyonly",
			Variants: []Variant{
				{PackageID: "io.appdock.nightlyonly", Channel: "nightly", VersionCode: 1},
			},
		}
		_, err := entry.VariantFor("beta")
		require.Error(t, err)
	})
}

func TestIndexValidate(t *testing.T) {
	testCases := []struct {
		name    string
		mutate  func(*Index)
		wantErr string
	}{
		{
			name:   "valid",
			mutate: func(*Index) {},
		},
		{
			name: "empty package id",
			mutate: func(i *Index) {
				i.Apps[0].PackageID = ""
			},
			wantErr: "empty package id",
		},
		{
			name: "no variants",
			mutate: func(i *Index) {
				i.Apps[1].Variants = nil
			},
			wantErr: "no variants",
		},
		{
			name: "foreign variant",
			mutate: func(i *Index) {
				i.Apps[1].Variants[0].PackageID = "io.appdock.other"
			},
			wantErr: "belonging to",
		},
		{
			name: "malformed digest",
			mutate: func(i *Index) {
				i.Apps[0].Variants[0].SHA256 = "zz"
			},
			wantErr: "malformed digest",
		},
		{
			name: "non-positive version code",
			mutate: func(i *Index) {
				i.Apps[0].Variants[0].VersionCode = 0
			},
			wantErr: "version code",
		},
	}

	for _, tc := range testCases {
		t.Run(tc.name, func(t *testing.T) {
			index := testIndex()
			tc.mutate(&index)
			err := index.Validate()
			if tc.wantErr == "" {
				assert.NoError(t, err)
				return
			}
			require.Error(t, err)
			assert.Contains(t, err.Error(), tc.wantErr)
		})
	}
}
