// Copyright Amazon.com, Inc. or its affiliates. All Rights Reserved.
// SPDX-License-Identifier: Apache-2.0

// Package invoke drives the fetch -> invoke -> respond cycle of the
// runtime interface client.
package invoke

import (
	"context"
	"time"

	"github.com/aws/aws-lambda-go/lambda"
	"github.com/aws/aws-lambda-go/lambdacontext"
	log "github.com/sirupsen/logrus"

	"go.amzn.com/ric/checkpoint"
	"go.amzn.com/ric/runtimeapi"
)

const functionErrorType = "Function.Error"

// Client is the Runtime API surface the loop depends on.
type Client interface {
	Next(ctx context.Context) (*runtimeapi.Invocation, error)
	PostResponse(ctx context.Context, awsRequestID string, payload []byte) error
	PostError(ctx context.Context, awsRequestID string, fnErr *runtimeapi.FunctionError) error
}

// Loop processes invocations for a single runtime. After every fully
// submitted response it passes the checkpoint gate's sync point, the
// one place in the cycle where pausing for a snapshot is safe. One loop
// per gate; the gate does not support multiple concurrent loops.
type Loop struct {
	client  Client
	handler lambda.Handler
	gate    *checkpoint.Gate
}

// NewLoop returns a loop driving handler with events from client,
// parking at gate's sync point when a checkpoint is pending.
func NewLoop(client Client, handler lambda.Handler, gate *checkpoint.Gate) *Loop {
	return &Loop{
		client:  client,
		handler: handler,
		gate:    gate,
	}
}

// Run processes invocations until ctx is canceled or fetching the next
// invocation fails. Handler errors are reported to the Runtime API and
// do not stop the loop.
func (l *Loop) Run(ctx context.Context) error {
	for {
		inv, err := l.client.Next(ctx)
		if err != nil {
			if ctx.Err() != nil {
				return ctx.Err()
			}
			log.WithError(err).Error("Failed to fetch next invocation")
			return err
		}

		l.handle(ctx, inv)

		// The response is fully submitted and nothing is in flight:
		// this is the safe point to park if a checkpoint is pending.
		l.gate.SyncPoint()

		if ctx.Err() != nil {
			return ctx.Err()
		}
	}
}

func (l *Loop) handle(ctx context.Context, inv *runtimeapi.Invocation) {
	invCtx, cancel := l.invocationContext(ctx, inv)
	defer cancel()

	payload, err := l.handler.Invoke(invCtx, inv.Payload)
	if err != nil {
		log.WithError(err).WithField("requestID", inv.ID).Warn("Handler returned an error")
		fnErr := &runtimeapi.FunctionError{Type: functionErrorType, Message: err.Error()}
		if perr := l.client.PostError(ctx, inv.ID, fnErr); perr != nil {
			log.WithError(perr).WithField("requestID", inv.ID).Error("Failed to post invocation error")
		}
		return
	}

	if perr := l.client.PostResponse(ctx, inv.ID, payload); perr != nil {
		log.WithError(perr).WithField("requestID", inv.ID).Error("Failed to post invocation response")
	}
}

func (l *Loop) invocationContext(ctx context.Context, inv *runtimeapi.Invocation) (context.Context, context.CancelFunc) {
	lc := &lambdacontext.LambdaContext{
		AwsRequestID:       inv.ID,
		InvokedFunctionArn: inv.InvokedFunctionArn,
	}
	invCtx := lambdacontext.NewContext(ctx, lc)
	if inv.DeadlineMs > 0 {
		return context.WithDeadline(invCtx, time.Unix(0, inv.DeadlineMs*int64(time.Millisecond)))
	}
	return context.WithCancel(invCtx)
}
