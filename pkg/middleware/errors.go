package middleware

// ErrorResponse is the JSON body of every rejected request.
type ErrorResponse struct {
	Success   bool   `json:"success"`
	Message   string `json:"message"`
	ErrorCode string `json:"errorCode"`
}

func NewErrorResponse(message, code string) ErrorResponse {
	return ErrorResponse{Success: false, Message: message, ErrorCode: code}
}
