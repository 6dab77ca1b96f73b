// Copyright Amazon.com, Inc. or its affiliates. All Rights Reserved.
// SPDX-License-Identifier: Apache-2.0

package standalone

// ErrorResponse is a standard invalid request response.
type ErrorResponse struct {
	ErrorType    string `json:"errorType,omitempty"`
	ErrorMessage string `json:"errorMessage,omitempty"`
}

// StatusResponse is a standard success response.
type StatusResponse struct {
	Status string `json:"status"`
}
