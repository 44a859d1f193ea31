package models

// ServiceStatus contains the systemd state of the relay unit.
type ServiceStatus struct {
	Unit        string `json:"unit" example:"srtrelay.service" doc:"Unit name"`
	ActiveState string `json:"active_state" example:"active" doc:"Active state (active, inactive, failed, etc.)"`
	SubState    string `json:"sub_state" example:"running" doc:"Unit specific sub state"`
}

// ServiceStatusResponse wraps ServiceStatus for API responses.
type ServiceStatusResponse struct {
	Body ServiceStatus
}
