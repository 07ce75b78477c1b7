package httpcontroller

import "github.com/zaz600/go-status-collector/internal/entity"

type StatusRequest struct {
	ClientID string `json:"client_id"`
	Status   string `json:"status"`
}

func (r StatusRequest) toEntity() entity.StatusReport {
	return entity.NewStatusReport(r.ClientID, r.Status)
}

type StatusBatchRequest []StatusRequest

type StatusBatchResponse struct {
	Accepted int    `json:"accepted"`
	Error    string `json:"error,omitempty"`
}
