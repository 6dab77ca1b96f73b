// Copyright Amazon.com, Inc. or its affiliates. All Rights Reserved.
// SPDX-License-Identifier: Apache-2.0

package checkpoint

import (
	"context"
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
)

type recordingResource struct {
	name          string
	calls         *[]string
	checkpointErr error
	restoreErr    error
}

func (r *recordingResource) BeforeCheckpoint(ctx context.Context) error {
	*r.calls = append(*r.calls, r.name+":checkpoint")
	return r.checkpointErr
}

func (r *recordingResource) AfterRestore(ctx context.Context) error {
	*r.calls = append(*r.calls, r.name+":restore")
	return r.restoreErr
}

func TestBeforeCheckpointReverseOrder(t *testing.T) {
	registry := NewRegistry()
	var calls []string
	registry.Register(&recordingResource{name: "first", calls: &calls})
	registry.Register(&recordingResource{name: "second", calls: &calls})

	assert.NoError(t, registry.BeforeCheckpoint(context.Background()))
	assert.Equal(t, []string{"second:checkpoint", "first:checkpoint"}, calls)
}

func TestAfterRestoreRegistrationOrder(t *testing.T) {
	registry := NewRegistry()
	var calls []string
	registry.Register(&recordingResource{name: "first", calls: &calls})
	registry.Register(&recordingResource{name: "second", calls: &calls})

	assert.NoError(t, registry.AfterRestore(context.Background()))
	assert.Equal(t, []string{"first:restore", "second:restore"}, calls)
}

func TestBeforeCheckpointFirstErrorWins(t *testing.T) {
	registry := NewRegistry()
	var calls []string
	errFirst := errors.New("first failed")
	errSecond := errors.New("second failed")
	registry.Register(&recordingResource{name: "first", calls: &calls, checkpointErr: errFirst})
	registry.Register(&recordingResource{name: "second", calls: &calls, checkpointErr: errSecond})

	// Reverse order: "second" runs first, so its error is reported.
	assert.Equal(t, errSecond, registry.BeforeCheckpoint(context.Background()))
	assert.Len(t, calls, 2)
}

func TestAfterRestoreNotifiesAllOnError(t *testing.T) {
	registry := NewRegistry()
	var calls []string
	errFirst := errors.New("first failed")
	registry.Register(&recordingResource{name: "first", calls: &calls, restoreErr: errFirst})
	registry.Register(&recordingResource{name: "second", calls: &calls})

	assert.Equal(t, errFirst, registry.AfterRestore(context.Background()))
	assert.Equal(t, []string{"first:restore", "second:restore"}, calls)
}

func TestEmptyRegistry(t *testing.T) {
	registry := NewRegistry()
	assert.NoError(t, registry.BeforeCheckpoint(context.Background()))
	assert.NoError(t, registry.AfterRestore(context.Background()))
}
