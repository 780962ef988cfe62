// Package dto provides Data Transfer Objects for API requests/responses.
package dto

// IDResponse contains a created entity's ID.
type IDResponse struct {
	ID string `json:"id"`
}

// SuccessResponse is a generic success acknowledgement.
type SuccessResponse struct {
	Success bool   `json:"success"`
	Message string `json:"message,omitempty"`
}
