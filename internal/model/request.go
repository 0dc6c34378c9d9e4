package model

import "encoding/json"

// RequestName is the persisted string discriminant of a Request payload
// variant. It is the single source of truth tying the tag in the request
// table to the Go type it deserializes to; keep this file's switch
// exhaustive whenever a variant is added.
type RequestName string

const (
	NewPr     RequestName = "NewPr"
	OldPr     RequestName = "OldPr"
	NewIssue  RequestName = "NewIssue"
	OldIssue  RequestName = "OldIssue"
	CommentsR RequestName = "Comments"
)

// ListRequest is the payload shared by NewPr, OldPr, NewIssue, OldIssue:
// a paginated list call against one repo.
type ListRequest struct {
	Repo    Repo   `json:"repo"`
	Page    int    `json:"page"`
	NextURL string `json:"next_url,omitempty"`
}

// CommentsRequest is the payload of a Comments request: paginated fetch
// of comments on one issue or PR, optionally bounded by since_timestamp.
type CommentsRequest struct {
	Repo            Repo   `json:"repo"`
	IssueNumber     int    `json:"issue_number"`
	SinceTimestamp  *int64 `json:"since_timestamp,omitempty"`
	Page            int    `json:"page"`
	NextURL         string `json:"next_url,omitempty"`
}

// Request is a durable queue entry: the (name, data) pair persisted in
// the request table, plus the fields that identify it once dequeued.
type Request struct {
	SequenceNumber int64
	Category       Category
	Name           RequestName
	List           *ListRequest
	Comments       *CommentsRequest
}

// Encode serializes the variant-specific payload for storage in the
// request table's data column.
func (r *Request) Encode() ([]byte, error) {
	switch r.Name {
	case NewPr, OldPr, NewIssue, OldIssue:
		return json.Marshal(r.List)
	case CommentsR:
		return json.Marshal(r.Comments)
	default:
		return nil, &UnknownRequestNameError{Name: r.Name}
	}
}

// DecodeRequestPayload deserializes data into the payload shape implied
// by name, returning a Request with only the relevant variant field set.
func DecodeRequestPayload(name RequestName, data []byte) (*Request, error) {
	r := &Request{Name: name}
	switch name {
	case NewPr, OldPr, NewIssue, OldIssue:
		var lr ListRequest
		if err := json.Unmarshal(data, &lr); err != nil {
			return nil, err
		}
		r.List = &lr
	case CommentsR:
		var cr CommentsRequest
		if err := json.Unmarshal(data, &cr); err != nil {
			return nil, err
		}
		r.Comments = &cr
	default:
		return nil, &UnknownRequestNameError{Name: name}
	}
	return r, nil
}

// UnknownRequestNameError is returned when a request row carries a name
// tag that does not match any known variant; the queue treats this the
// same as a deserialization failure (poison entry: log and skip).
type UnknownRequestNameError struct {
	Name RequestName
}

func (e *UnknownRequestNameError) Error() string {
	return "unknown request name: " + string(e.Name)
}
