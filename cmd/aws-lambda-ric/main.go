// Copyright Amazon.com, Inc. or its affiliates. All Rights Reserved.
// SPDX-License-Identifier: Apache-2.0

package main

import (
	"context"
	"encoding/json"
	"os"

	"github.com/aws/aws-lambda-go/lambda"
	"github.com/jessevdk/go-flags"
	"golang.org/x/sync/errgroup"

	"go.amzn.com/ric"
	"go.amzn.com/ric/checkpoint"
	"go.amzn.com/ric/standalone"

	log "github.com/sirupsen/logrus"
)

type options struct {
	LogLevel string `long:"log-level" default:"info" description:"log level"`
	Host     string `long:"host" default:"127.0.0.1" description:"interface for the local runtime API"`
	Port     int    `long:"port" default:"8080" description:"port for the local runtime API"`
}

func main() {
	opts := getCLIArgs()
	ric.SetLogLevel(opts.LogLevel)

	gate := checkpoint.NewGate()
	registry := checkpoint.NewRegistry()

	server := standalone.NewServer(opts.Host, opts.Port, registry, gate)
	if err := server.Listen(); err != nil {
		log.WithError(err).Fatal("Local runtime API server failed to listen")
	}

	runtime := ric.NewRuntime(server.Address(), lambda.NewHandler(echo), gate, registry)

	log.Infof("Serving on %s: POST /2015-03-31/functions/function/invocations to invoke, "+
		"POST /checkpoint and /restore to drive the snapshot lifecycle", server.Address())

	group, ctx := errgroup.WithContext(context.Background())
	group.Go(func() error { return server.Serve(ctx) })
	group.Go(func() error { return runtime.Run(ctx) })

	if err := group.Wait(); err != nil {
		log.WithError(err).Fatal("Runtime interface client exited")
	}
}

// echo stands in for function code when exercising the checkpoint
// lifecycle locally.
func echo(ctx context.Context, payload json.RawMessage) (json.RawMessage, error) {
	return payload, nil
}

func getCLIArgs() options {
	var opts options
	parser := flags.NewParser(&opts, flags.IgnoreUnknown)
	if _, err := parser.ParseArgs(os.Args); err != nil {
		log.WithError(err).Fatal("Failed to parse command line arguments:", os.Args)
	}
	return opts
}
