// Copyright Amazon.com, Inc. or its affiliates. All Rights Reserved.
// SPDX-License-Identifier: Apache-2.0

// Package standalone provides a local Runtime API emulator with a
// checkpoint controller surface, so the full checkpoint/restore
// lifecycle of the runtime interface client can be exercised without a
// Lambda environment.
package standalone

import (
	"context"
	"fmt"
	"net"
	"net/http"
	"os"
	"sync"
	"time"

	"github.com/go-chi/chi"
	log "github.com/sirupsen/logrus"

	"go.amzn.com/ric/checkpoint"
)

const (
	versionRuntimeAPI = "/2018-06-01"
	versionInvokeAPI  = "/2015-03-31"
)

const invokeQueueSize = 64

// pendingInvoke tracks an invocation from the moment it is submitted on
// the invoke API until the runtime posts its response.
type pendingInvoke struct {
	id         string
	payload    []byte
	deadlineMs int64
	done       chan *invokeResult
}

type invokeResult struct {
	payload []byte
	isError bool
}

// Server is a local Runtime API emulator. It hands queued invocations
// to the runtime, accepts its responses, and exposes the controller
// endpoints that drive the checkpoint/restore lifecycle of the gate.
type Server struct {
	host     string
	port     int
	server   *http.Server
	listener net.Listener
	exit     chan error

	registry *checkpoint.Registry
	gate     *checkpoint.Gate

	functionTimeout time.Duration

	mu      sync.Mutex
	queue   chan *pendingInvoke
	pending map[string]*pendingInvoke
}

// NewServer creates a local Runtime API server. registry and gate must
// be the same instances handed to the runtime interface client; the
// checkpoint endpoints act on them.
//
// Like the Runtime API server, Listen() and Serve() are separated to
// guarantee order: Listen() should happen before the runtime client is
// started. When port is 0, the OS will dynamically allocate the
// listening port.
func NewServer(host string, port int, registry *checkpoint.Registry, gate *checkpoint.Gate) *Server {
	s := &Server{
		host:            host,
		port:            port,
		exit:            make(chan error, 1),
		registry:        registry,
		gate:            gate,
		functionTimeout: functionTimeoutFromEnv(),
		queue:           make(chan *pendingInvoke, invokeQueueSize),
		pending:         make(map[string]*pendingInvoke),
	}
	s.server = &http.Server{Handler: s.Handler()}
	return s
}

// Handler returns the router serving the Runtime API, the invoke API
// and the checkpoint controller endpoints.
func (s *Server) Handler() http.Handler {
	router := chi.NewRouter()

	router.Get("/ping", s.pingHandler)

	router.Get(versionRuntimeAPI+"/runtime/invocation/next", s.nextHandler)
	router.Post(versionRuntimeAPI+"/runtime/invocation/{awsrequestid}/response", s.responseHandler)
	router.Post(versionRuntimeAPI+"/runtime/invocation/{awsrequestid}/error", s.errorHandler)
	router.Post(versionRuntimeAPI+"/runtime/init/error", s.initErrorHandler)

	router.Post(versionInvokeAPI+"/functions/function/invocations", s.invokeHandler)

	router.Post("/checkpoint", s.checkpointHandler)
	router.Post("/restore", s.restoreHandler)
	router.Get("/checkpoint/state", s.stateHandler)

	return router
}

// Listen on port.
func (s *Server) Listen() error {
	addr := fmt.Sprintf("%s:%d", s.host, s.port)

	ln, err := net.Listen("tcp", addr)
	if err != nil {
		return err
	}

	s.listener = ln
	if s.port == 0 {
		s.port = ln.Addr().(*net.TCPAddr).Port
		log.WithField("port", s.port).Info("Listening port was dynamically allocated")
	}

	log.Debugf("Local runtime API server listening on %s:%d", s.host, s.port)

	return nil
}

// Address returns the host:port the server listens on; the port is
// final once Listen has returned.
func (s *Server) Address() string {
	return fmt.Sprintf("%s:%d", s.host, s.port)
}

// Serve requests and close on cancelation signals.
func (s *Server) Serve(ctx context.Context) error {
	defer s.Close()

	select {
	case err := <-s.serveAsync():
		return err
	case <-ctx.Done():
		return ctx.Err()
	}
}

func (s *Server) serveAsync() chan error {
	go func() {
		s.exit <- s.server.Serve(s.listener)
	}()
	return s.exit
}

// Close the server and its listener.
func (s *Server) Close() error {
	return s.server.Close()
}

func (s *Server) trackPending(invoke *pendingInvoke) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.pending[invoke.id] = invoke
}

func (s *Server) takePending(awsRequestID string) *pendingInvoke {
	s.mu.Lock()
	defer s.mu.Unlock()
	invoke := s.pending[awsRequestID]
	delete(s.pending, awsRequestID)
	return invoke
}

// GetenvWithDefault returns the env variable value or defaultValue when
// unset.
func GetenvWithDefault(key string, defaultValue string) string {
	envValue := os.Getenv(key)

	if envValue == "" {
		return defaultValue
	}

	return envValue
}

func functionTimeoutFromEnv() time.Duration {
	timeoutSeconds := GetenvWithDefault("AWS_LAMBDA_FUNCTION_TIMEOUT", "300")
	timeout, err := time.ParseDuration(timeoutSeconds + "s")
	if err != nil {
		log.Warnf("Invalid AWS_LAMBDA_FUNCTION_TIMEOUT %q, using 300s", timeoutSeconds)
		return 300 * time.Second
	}
	return timeout
}

func functionArn() string {
	functionName := GetenvWithDefault("AWS_LAMBDA_FUNCTION_NAME", "test_function")
	return fmt.Sprintf("arn:aws:lambda:us-east-1:012345678912:function:%s", functionName)
}
