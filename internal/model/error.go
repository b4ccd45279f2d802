package model

// AppError is the only structured error payload returned by this service.
// It never carries internal file paths or stack state.
type AppError struct {
	Code    string `json:"code"`
	Message string `json:"message"`
	Stage   string `json:"stage"`

	URL     string `json:"url,omitempty"`
	Line    int    `json:"line,omitempty"`    // 1-based; 0 means "not set"
	Snippet string `json:"snippet,omitempty"` // <= 200 chars
	Hint    string `json:"hint,omitempty"`
}

// ErrorResponse is the non-2xx body. Detail duplicates the message because
// the frontend surfaces `detail` verbatim; Error carries the structured form
// for API consumers.
type ErrorResponse struct {
	Detail string   `json:"detail"`
	Error  AppError `json:"error"`
}
