// Copyright Amazon.com, Inc. or its affiliates. All Rights Reserved.
// SPDX-License-Identifier: Apache-2.0

package checkpoint

import (
	"context"
	"sync"

	log "github.com/sirupsen/logrus"
)

// Resource receives checkpoint/restore lifecycle notifications.
// Implementations release state that must not be captured in a snapshot
// (open sockets, native handles) in BeforeCheckpoint and rebuild it in
// AfterRestore.
type Resource interface {
	BeforeCheckpoint(ctx context.Context) error
	AfterRestore(ctx context.Context) error
}

// Registry dispatches lifecycle notifications to registered resources.
// BeforeCheckpoint notifies in reverse registration order and
// AfterRestore in registration order, so resources registered first are
// torn down last and rebuilt first.
type Registry struct {
	mu        sync.Mutex
	resources []Resource
}

// NewRegistry returns an empty registry.
func NewRegistry() *Registry {
	return &Registry{}
}

// Register adds a resource to the registry.
func (r *Registry) Register(res Resource) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.resources = append(r.resources, res)
}

func (r *Registry) snapshotResources() []Resource {
	r.mu.Lock()
	defer r.mu.Unlock()
	resources := make([]Resource, len(r.resources))
	copy(resources, r.resources)
	return resources
}

// BeforeCheckpoint notifies every resource that a snapshot is about to
// be taken. All resources are notified even when one of them fails; the
// first failure is returned and the rest are logged.
func (r *Registry) BeforeCheckpoint(ctx context.Context) error {
	resources := r.snapshotResources()
	var first error
	for i := len(resources) - 1; i >= 0; i-- {
		if err := resources[i].BeforeCheckpoint(ctx); err != nil {
			log.WithError(err).Error("Resource failed to prepare for checkpoint")
			if first == nil {
				first = err
			}
		}
	}
	return first
}

// AfterRestore notifies every resource that the process has resumed
// from a restored snapshot. All resources are notified even when one of
// them fails; the first failure is returned and the rest are logged.
func (r *Registry) AfterRestore(ctx context.Context) error {
	var first error
	for _, res := range r.snapshotResources() {
		if err := res.AfterRestore(ctx); err != nil {
			log.WithError(err).Error("Resource failed to reinitialize after restore")
			if first == nil {
				first = err
			}
		}
	}
	return first
}
