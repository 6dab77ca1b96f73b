// Copyright Amazon.com, Inc. or its affiliates. All Rights Reserved.
// SPDX-License-Identifier: Apache-2.0

package standalone

import (
	"context"
	"encoding/json"
	"io/ioutil"
	"net/http"
	"strconv"
	"time"

	"github.com/go-chi/chi"
	"github.com/go-chi/render"
	"github.com/google/uuid"
	log "github.com/sirupsen/logrus"

	"go.amzn.com/ric/runtimeapi"
)

// CheckpointBody is the request body accepted by the /checkpoint
// endpoint. CheckpointTimeoutMs bounds the wait for the runtime to
// reach its sync point; 0 or absent waits forever, like the source
// lifecycle does.
type CheckpointBody struct {
	CheckpointTimeoutMs int64 `json:"checkpointTimeoutMs"`
}

func (s *Server) pingHandler(w http.ResponseWriter, r *http.Request) {
	if _, err := w.Write([]byte("pong")); err != nil {
		log.WithError(err).Fatal("Failed to write 'pong' response")
	}
}

func (s *Server) nextHandler(w http.ResponseWriter, r *http.Request) {
	log.Debugf("next: -> %s %s", r.Method, r.URL)

	select {
	case invoke := <-s.queue:
		s.trackPending(invoke)
		w.Header().Set(runtimeapi.HeaderAwsRequestID, invoke.id)
		w.Header().Set(runtimeapi.HeaderDeadlineMs, strconv.FormatInt(invoke.deadlineMs, 10))
		w.Header().Set(runtimeapi.HeaderInvokedFunctionArn, functionArn())
		w.Header().Set("Content-Type", "application/json")
		if _, err := w.Write(invoke.payload); err != nil {
			log.WithError(err).WithField("requestID", invoke.id).Error("Failed to write invocation payload")
		}
	case <-r.Context().Done():
		// Runtime went away while long-polling.
	}
}

func (s *Server) responseHandler(w http.ResponseWriter, r *http.Request) {
	s.completeInvoke(w, r, false)
}

func (s *Server) errorHandler(w http.ResponseWriter, r *http.Request) {
	s.completeInvoke(w, r, true)
}

func (s *Server) completeInvoke(w http.ResponseWriter, r *http.Request, isError bool) {
	awsRequestID := chi.URLParam(r, "awsrequestid")

	invoke := s.takePending(awsRequestID)
	if invoke == nil {
		render.Status(r, http.StatusBadRequest)
		render.JSON(w, r, &ErrorResponse{
			ErrorType:    "InvalidRequestID",
			ErrorMessage: "Invalid request ID",
		})
		return
	}

	body, err := ioutil.ReadAll(r.Body)
	if err != nil {
		log.WithError(err).WithField("requestID", awsRequestID).Error("Failed to read response body")
		render.Status(r, http.StatusInternalServerError)
		render.JSON(w, r, &ErrorResponse{ErrorType: "BodyReadError", ErrorMessage: err.Error()})
		return
	}

	invoke.done <- &invokeResult{payload: body, isError: isError}

	render.Status(r, http.StatusAccepted)
	render.JSON(w, r, &StatusResponse{Status: "OK"})
}

func (s *Server) initErrorHandler(w http.ResponseWriter, r *http.Request) {
	body, _ := ioutil.ReadAll(r.Body)
	log.Errorf("Runtime reported init error: %s", string(body))

	render.Status(r, http.StatusAccepted)
	render.JSON(w, r, &StatusResponse{Status: "OK"})
}

func (s *Server) invokeHandler(w http.ResponseWriter, r *http.Request) {
	log.Debugf("invoke: -> %s %s %v", r.Method, r.URL, r.Header)

	bodyBytes, err := ioutil.ReadAll(r.Body)
	if err != nil {
		log.Errorf("Failed to read invoke body: %s", err)
		w.WriteHeader(http.StatusInternalServerError)
		return
	}

	invoke := &pendingInvoke{
		id:         uuid.New().String(),
		payload:    bodyBytes,
		deadlineMs: time.Now().Add(s.functionTimeout).UnixNano() / int64(time.Millisecond),
		done:       make(chan *invokeResult, 1),
	}

	select {
	case s.queue <- invoke:
	default:
		render.Status(r, http.StatusTooManyRequests)
		render.JSON(w, r, &ErrorResponse{ErrorType: "QueueFull", ErrorMessage: "Invocation queue is full"})
		return
	}

	log.Infof("START RequestId: %s", invoke.id)

	select {
	case result := <-invoke.done:
		log.Infof("END RequestId: %s", invoke.id)
		if result.isError {
			w.Header().Set("X-Amz-Function-Error", "Unhandled")
		}
		if _, werr := w.Write(result.payload); werr != nil {
			log.WithError(werr).WithField("requestID", invoke.id).Error("Failed to write invoke result")
		}
	case <-r.Context().Done():
		log.Warnf("Invoke %s abandoned by caller", invoke.id)
	}
}

func (s *Server) checkpointHandler(w http.ResponseWriter, r *http.Request) {
	checkpointRequest := CheckpointBody{}
	body, err := ioutil.ReadAll(r.Body)
	if err == nil && len(body) > 0 {
		if jerr := json.Unmarshal(body, &checkpointRequest); jerr != nil {
			render.Status(r, http.StatusBadRequest)
			render.JSON(w, r, &ErrorResponse{ErrorType: "InvalidJson", ErrorMessage: jerr.Error()})
			return
		}
	}

	ctx := context.Background()
	if checkpointRequest.CheckpointTimeoutMs > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, time.Duration(checkpointRequest.CheckpointTimeoutMs)*time.Millisecond)
		defer cancel()
	}

	start := time.Now()
	err = s.registry.BeforeCheckpoint(ctx)

	responseMap := make(map[string]string)
	responseMap["checkpointMs"] = strconv.FormatInt(time.Since(start).Milliseconds(), 10)
	responseMap["gateState"] = s.gate.State().String()

	if err != nil {
		log.Errorf("Failed to checkpoint: %s", err)
		responseMap["checkpointError"] = err.Error()
		w.WriteHeader(http.StatusBadGateway)
	}

	responseJSON, err := json.Marshal(responseMap)
	if err != nil {
		log.Panicf("Cannot marshal the response map for CHECKPOINT, %v", responseMap)
	}

	w.Write(responseJSON)
}

func (s *Server) restoreHandler(w http.ResponseWriter, r *http.Request) {
	start := time.Now()
	err := s.registry.AfterRestore(r.Context())

	responseMap := make(map[string]string)
	responseMap["restoreMs"] = strconv.FormatInt(time.Since(start).Milliseconds(), 10)
	responseMap["gateState"] = s.gate.State().String()

	if err != nil {
		log.Errorf("Failed to restore: %s", err)
		responseMap["restoreError"] = err.Error()
		w.WriteHeader(http.StatusBadGateway)
	}

	responseJSON, err := json.Marshal(responseMap)
	if err != nil {
		log.Panicf("Cannot marshal the response map for RESTORE, %v", responseMap)
	}

	w.Write(responseJSON)
}

func (s *Server) stateHandler(w http.ResponseWriter, r *http.Request) {
	render.JSON(w, r, s.gate.Described())
}
