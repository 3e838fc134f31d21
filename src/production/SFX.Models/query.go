package sfxmodels

// QueryStatus tells a caller of the latest-reading query what happened.
type QueryStatus string

const (
	QueryFound       QueryStatus = "found"
	QueryNotFound    QueryStatus = "not_found"
	QueryUnavailable QueryStatus = "unavailable"
)

// LatestResult is the outcome of a latest-reading query. Reading is set only
// when Status is QueryFound.
type LatestResult struct {
	Status  QueryStatus `json:"status"`
	Reading *Reading    `json:"reading,omitempty"`
	Error   string      `json:"error,omitempty"`
}

// ErrorResponse is the JSON body returned for non-200 query answers.
type ErrorResponse struct {
	Status QueryStatus `json:"status"`
	Error  string      `json:"error"`
}
