package model

// Page is one slice of an ordered list. NextCursor is the ID of the last
// item and resumes the list strictly after it. Err is set when the load
// failed, which keeps an empty error page distinct from the end of data.
type Page[T any] struct {
	Items      []T    `json:"items"`
	NextCursor string `json:"next_cursor,omitempty"`
	HasMore    bool   `json:"has_more"`
	Err        error  `json:"-"`
}
