// Copyright Amazon.com, Inc. or its affiliates. All Rights Reserved.
// SPDX-License-Identifier: Apache-2.0

package runtimeapi

import (
	"context"
	"encoding/json"
	"io/ioutil"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func endpointOf(srv *httptest.Server) string {
	return strings.TrimPrefix(srv.URL, "http://")
}

func TestNextParsesInvocation(t *testing.T) {
	var gotUserAgent string
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, http.MethodGet, r.Method)
		assert.Equal(t, "/2018-06-01/runtime/invocation/next", r.URL.Path)
		gotUserAgent = r.Header.Get("User-Agent")

		w.Header().Set(HeaderAwsRequestID, "req-1")
		w.Header().Set(HeaderDeadlineMs, "1700000000000")
		w.Header().Set(HeaderInvokedFunctionArn, "arn:aws:lambda:us-east-1:012345678912:function:test")
		w.Header().Set(HeaderTraceID, "Root=1-abc")
		w.Header().Set(HeaderClientContext, "client-ctx")
		w.Header().Set("Content-Type", "application/json")
		w.Write([]byte(`{"key":"value"}`))
	}))
	defer srv.Close()

	client := NewClient(endpointOf(srv))
	inv, err := client.Next(context.Background())
	require.NoError(t, err)

	assert.Equal(t, "req-1", inv.ID)
	assert.Equal(t, int64(1700000000000), inv.DeadlineMs)
	assert.Equal(t, "arn:aws:lambda:us-east-1:012345678912:function:test", inv.InvokedFunctionArn)
	assert.Equal(t, "Root=1-abc", inv.TraceID)
	assert.Equal(t, "client-ctx", inv.ClientContext)
	assert.Equal(t, "application/json", inv.ContentType)
	assert.Equal(t, []byte(`{"key":"value"}`), inv.Payload)
	assert.True(t, strings.HasPrefix(gotUserAgent, "aws-lambda-go-ric/"))
}

func TestNextMissingDeadlineHeader(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set(HeaderAwsRequestID, "req-2")
		w.Write([]byte(`{}`))
	}))
	defer srv.Close()

	client := NewClient(endpointOf(srv))
	inv, err := client.Next(context.Background())
	require.NoError(t, err)
	assert.Equal(t, int64(0), inv.DeadlineMs)
}

func TestNextServerError(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusInternalServerError)
	}))
	defer srv.Close()

	client := NewClient(endpointOf(srv))
	_, err := client.Next(context.Background())
	assert.Error(t, err)
}

func TestPostResponse(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, http.MethodPost, r.Method)
		assert.Equal(t, "/2018-06-01/runtime/invocation/req-3/response", r.URL.Path)
		assert.Equal(t, "application/json", r.Header.Get("Content-Type"))
		body, err := ioutil.ReadAll(r.Body)
		assert.NoError(t, err)
		assert.Equal(t, []byte(`"done"`), body)
		w.WriteHeader(http.StatusAccepted)
	}))
	defer srv.Close()

	client := NewClient(endpointOf(srv))
	assert.NoError(t, client.PostResponse(context.Background(), "req-3", []byte(`"done"`)))
}

func TestPostError(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/2018-06-01/runtime/invocation/req-4/error", r.URL.Path)
		assert.Equal(t, "application/vnd.aws.lambda.error+json", r.Header.Get("Content-Type"))

		var fnErr FunctionError
		assert.NoError(t, json.NewDecoder(r.Body).Decode(&fnErr))
		assert.Equal(t, "Function.Error", fnErr.Type)
		assert.Equal(t, "it broke", fnErr.Message)
		w.WriteHeader(http.StatusAccepted)
	}))
	defer srv.Close()

	client := NewClient(endpointOf(srv))
	fnErr := &FunctionError{Type: "Function.Error", Message: "it broke"}
	assert.NoError(t, client.PostError(context.Background(), "req-4", fnErr))
}

func TestPostInitError(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/2018-06-01/runtime/init/error", r.URL.Path)
		w.WriteHeader(http.StatusAccepted)
	}))
	defer srv.Close()

	client := NewClient(endpointOf(srv))
	assert.NoError(t, client.PostInitError(context.Background(), &FunctionError{Type: "Runtime.InitError"}))
}

func TestPostResponseRejected(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusForbidden)
	}))
	defer srv.Close()

	client := NewClient(endpointOf(srv))
	assert.Error(t, client.PostResponse(context.Background(), "req-5", nil))
}

func TestShutdownAndReinit(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set(HeaderAwsRequestID, "req-6")
		w.Write([]byte(`{}`))
	}))
	defer srv.Close()

	client := NewClient(endpointOf(srv))
	_, err := client.Next(context.Background())
	require.NoError(t, err)

	// The transport survives a full teardown/reinit cycle.
	client.Shutdown()
	client.Reinit()

	inv, err := client.Next(context.Background())
	require.NoError(t, err)
	assert.Equal(t, "req-6", inv.ID)
}
