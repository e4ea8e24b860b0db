package models

// FailureMessage is sent to the callback endpoint whenever extraction does not
// produce any text, whether the engine failed or simply found nothing.
const FailureMessage = "Error with detecting text in document"

// SuccessPayload is the callback body for a completed extraction.
type SuccessPayload struct {
	FileID string   `json:"file_id"`
	Text   []string `json:"text"`
}

// FailurePayload is the callback body for a failed extraction.
type FailurePayload struct {
	FileID string `json:"file_id"`
	Error  string `json:"error"`
}

// RegistrationResponse is returned to the client by POST /files.
type RegistrationResponse struct {
	FileID    string `json:"file_id"`
	UploadURL string `json:"upload_url"`
}

// ResultResponse is returned to the client by GET /files/{file_id}.
type ResultResponse struct {
	FileID string   `json:"file_id"`
	Text   []string `json:"text"`
	Status Status   `json:"status"`
}
