package entity

import "errors"

// ErrEmptyClientID отчет без идентификатора клиента не принимается
var ErrEmptyClientID = errors.New("empty client_id")

// StatusReport отчет клиента о своем состоянии.
// Отчеты не имеют собственного ключа, дубликаты допустимы и сохраняются в порядке поступления.
type StatusReport struct {
	ClientID string `json:"client_id"`
	Status   string `json:"status"`
}

func NewStatusReport(clientID string, status string) StatusReport {
	return StatusReport{
		ClientID: clientID,
		Status:   status,
	}
}

// Validate проверяет отчет перед постановкой в очередь
func (r StatusReport) Validate() error {
	if r.ClientID == "" {
		return ErrEmptyClientID
	}
	return nil
}
