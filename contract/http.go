package contract

// SendRequest is the body of the Send function.
type SendRequest struct {
	ToID string `json:"to_id"`
	Text string `json:"text"`
}

type SendResponse struct {
	Status string            `json:"status"`
	Steps  map[string]string `json:"steps,omitempty"`
}
