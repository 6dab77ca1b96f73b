// Copyright Amazon.com, Inc. or its affiliates. All Rights Reserved.
// SPDX-License-Identifier: Apache-2.0

// Package ric wires the runtime interface client: the Runtime API
// transport, the invocation loop, and the checkpoint/restore
// coordination around them.
package ric

import (
	"context"

	"github.com/aws/aws-lambda-go/lambda"
	log "github.com/sirupsen/logrus"

	"go.amzn.com/ric/checkpoint"
	"go.amzn.com/ric/invoke"
	"go.amzn.com/ric/runtimeapi"
)

// Runtime is a runtime interface client for a single function handler.
type Runtime struct {
	Client *runtimeapi.Client

	loop *invoke.Loop
}

// NewRuntime wires a runtime interface client for the Runtime API at
// endpoint (host:port) driving handler. The gate and registry are
// constructed and owned by the caller so the same instances can be
// handed to whichever controller delivers the checkpoint/restore
// lifecycle events; the client's own teardown/reinit resource is
// registered here.
func NewRuntime(endpoint string, handler lambda.Handler, gate *checkpoint.Gate, registry *checkpoint.Registry) *Runtime {
	client := runtimeapi.NewClient(endpoint)
	registry.Register(&clientResource{gate: gate, client: client})
	return &Runtime{
		Client: client,
		loop:   invoke.NewLoop(client, handler, gate),
	}
}

// Run processes invocations until ctx is canceled or the transport
// fails.
func (r *Runtime) Run(ctx context.Context) error {
	return r.loop.Run(ctx)
}

// clientResource sequences the transport around the checkpoint gate.
// The loop must be parked before the transport is torn down, and the
// transport must be rebuilt before the loop is released.
type clientResource struct {
	gate   *checkpoint.Gate
	client *runtimeapi.Client
}

func (r *clientResource) BeforeCheckpoint(ctx context.Context) error {
	if err := r.gate.Prepare(ctx); err != nil {
		return err
	}
	r.client.Shutdown()
	return nil
}

func (r *clientResource) AfterRestore(ctx context.Context) error {
	r.client.Reinit()
	r.gate.Resumed()
	return nil
}

// SetLogLevel sets the log level for internal logging. Needs to be
// called very early during startup to configure logs emitted during
// initialization.
func SetLogLevel(logLevel string) {
	level, err := log.ParseLevel(logLevel)
	if err != nil {
		log.WithError(err).Fatal("Failed to set log level. Valid log levels are:", log.AllLevels)
	}
	log.SetLevel(level)
}
