package protocol

// ExecutionNotification is the queue payload handed to the Executor. It
// deliberately omits the argument body; the Executor retrieves that via
// the gateway's context endpoint using RequestID as the claim check.
type ExecutionNotification struct {
	RequestID          string `json:"requestId"`
	Service            string `json:"service"`
	Operation          string `json:"operation"`
	CallbackURL        string `json:"callbackUrl"`
	TenantID           string `json:"tenantId"`
	UserID             string `json:"userId"`
	CredentialProxyURL string `json:"credentialProxyUrl,omitempty"`
}

// ExecuteResult is the Executor's callback payload.
type ExecuteResult struct {
	RequestID string        `json:"requestId"`
	Success   bool          `json:"success"`
	Output    interface{}   `json:"output,omitempty"`
	Error     *ExecuteError `json:"error,omitempty"`
}

// ExecuteError describes an executor-side failure.
type ExecuteError struct {
	Code    string `json:"code"`
	Message string `json:"message"`
}
