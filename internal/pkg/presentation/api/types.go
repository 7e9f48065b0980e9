package api

import (
	"encoding/json"
)

type meta struct {
	TotalRecords uint64 `json:"totalRecords"`
	Count        uint64 `json:"count"`
}

type ApiResponse struct {
	Meta *meta `json:"meta,omitempty"`
	Data any   `json:"data"`
}

func NewCollectionResponse[T any](items []T) ApiResponse {
	if items == nil {
		items = []T{}
	}

	return ApiResponse{
		Meta: &meta{
			TotalRecords: uint64(len(items)),
			Count:        uint64(len(items)),
		},
		Data: items,
	}
}

func (r ApiResponse) Byte() []byte {
	b, _ := json.Marshal(r)
	return b
}

type patchPatientRequest struct {
	Status string `json:"status"`
}

type acknowledgeRequest struct {
	AcknowledgerID *string `json:"acknowledgerID,omitempty"`
}
