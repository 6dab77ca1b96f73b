// Copyright Amazon.com, Inc. or its affiliates. All Rights Reserved.
// SPDX-License-Identifier: Apache-2.0

// Package runtimeapi implements the HTTP client side of the Lambda
// Runtime API: fetching invocation events and submitting responses.
package runtimeapi

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io/ioutil"
	"net/http"
	"runtime"
	"strconv"
	"sync"

	log "github.com/sirupsen/logrus"
)

const apiVersion = "/2018-06-01"

// Version of the runtime interface client, reported in User-Agent.
const Version = "0.1.0"

// Headers set by the Runtime API on invocation events.
const (
	HeaderAwsRequestID       = "Lambda-Runtime-Aws-Request-Id"
	HeaderDeadlineMs         = "Lambda-Runtime-Deadline-Ms"
	HeaderInvokedFunctionArn = "Lambda-Runtime-Invoked-Function-Arn"
	HeaderTraceID            = "Lambda-Runtime-Trace-Id"
	HeaderClientContext      = "Lambda-Runtime-Client-Context"
	HeaderCognitoIdentity    = "Lambda-Runtime-Cognito-Identity"
)

const (
	contentTypeJSON  = "application/json"
	contentTypeError = "application/vnd.aws.lambda.error+json"
)

// Invocation is a single invocation event handed out by the Runtime API.
type Invocation struct {
	ID                 string
	InvokedFunctionArn string
	DeadlineMs         int64
	TraceID            string
	ClientContext      string
	CognitoIdentity    string
	ContentType        string
	Payload            []byte
}

// FunctionError is the error document posted to the Runtime API when an
// invocation or initialization fails.
type FunctionError struct {
	Type       string   `json:"errorType,omitempty"`
	Message    string   `json:"errorMessage,omitempty"`
	StackTrace []string `json:"stackTrace,omitempty"`
}

// Client talks to the Runtime API on behalf of the invocation loop.
// Its transport is rebuilt on restore because the restored process may
// run on different hardware with a different identity.
type Client struct {
	endpoint string

	mu         sync.Mutex
	httpClient *http.Client
	userAgent  string
}

// NewClient returns a client for the Runtime API listening on endpoint
// (host:port, as passed via AWS_LAMBDA_RUNTIME_API).
func NewClient(endpoint string) *Client {
	c := &Client{endpoint: endpoint}
	c.Reinit()
	return c
}

// Reinit rebuilds the transport and the User-Agent string. Called once
// at startup and again after every restore.
func (c *Client) Reinit() {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.httpClient = &http.Client{}
	c.userAgent = fmt.Sprintf("aws-lambda-go-ric/%s-%s", Version, runtime.Version())
}

// Shutdown releases transport resources ahead of a snapshot. Open
// sockets must not be captured in the snapshot image.
func (c *Client) Shutdown() {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.httpClient.CloseIdleConnections()
}

func (c *Client) transport() (*http.Client, string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.httpClient, c.userAgent
}

func (c *Client) url(path string) string {
	return "http://" + c.endpoint + apiVersion + path
}

// Next blocks until the Runtime API hands out the next invocation.
func (c *Client) Next(ctx context.Context) (*Invocation, error) {
	httpClient, userAgent := c.transport()

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.url("/runtime/invocation/next"), nil)
	if err != nil {
		return nil, err
	}
	req.Header.Set("User-Agent", userAgent)

	resp, err := httpClient.Do(req)
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("runtime API returned %d for invocation/next", resp.StatusCode)
	}

	payload, err := ioutil.ReadAll(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("failed to read invocation payload: %s", err)
	}

	deadlineMs, err := strconv.ParseInt(resp.Header.Get(HeaderDeadlineMs), 10, 64)
	if err != nil {
		deadlineMs = 0
	}

	inv := &Invocation{
		ID:                 resp.Header.Get(HeaderAwsRequestID),
		InvokedFunctionArn: resp.Header.Get(HeaderInvokedFunctionArn),
		DeadlineMs:         deadlineMs,
		TraceID:            resp.Header.Get(HeaderTraceID),
		ClientContext:      resp.Header.Get(HeaderClientContext),
		CognitoIdentity:    resp.Header.Get(HeaderCognitoIdentity),
		ContentType:        resp.Header.Get("Content-Type"),
		Payload:            payload,
	}
	log.WithField("requestID", inv.ID).Debug("Received next invocation")
	return inv, nil
}

// PostResponse submits the invocation result.
func (c *Client) PostResponse(ctx context.Context, awsRequestID string, payload []byte) error {
	path := fmt.Sprintf("/runtime/invocation/%s/response", awsRequestID)
	return c.post(ctx, path, contentTypeJSON, payload)
}

// PostError reports a failed invocation.
func (c *Client) PostError(ctx context.Context, awsRequestID string, fnErr *FunctionError) error {
	body, err := json.Marshal(fnErr)
	if err != nil {
		return fmt.Errorf("failed to marshal function error: %s", err)
	}
	path := fmt.Sprintf("/runtime/invocation/%s/error", awsRequestID)
	return c.post(ctx, path, contentTypeError, body)
}

// PostInitError reports an initialization failure.
func (c *Client) PostInitError(ctx context.Context, fnErr *FunctionError) error {
	body, err := json.Marshal(fnErr)
	if err != nil {
		return fmt.Errorf("failed to marshal function error: %s", err)
	}
	return c.post(ctx, "/runtime/init/error", contentTypeError, body)
}

func (c *Client) post(ctx context.Context, path string, contentType string, payload []byte) error {
	httpClient, userAgent := c.transport()

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.url(path), bytes.NewReader(payload))
	if err != nil {
		return err
	}
	req.Header.Set("User-Agent", userAgent)
	req.Header.Set("Content-Type", contentType)

	resp, err := httpClient.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusAccepted && resp.StatusCode != http.StatusOK {
		return fmt.Errorf("runtime API returned %d for %s", resp.StatusCode, path)
	}
	return nil
}
