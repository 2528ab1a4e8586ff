package model

import "github.com/sells-group/taxid-cli/internal/textnorm"

// Status is the lookup state of one record as persisted in the status column.
type Status string

const (
	StatusPending          Status = "Pending"
	StatusSuccess          Status = "Success"
	StatusNotFoundListing  Status = "NotFoundListing"
	StatusNotFoundDetail   Status = "NotFoundDetail"
	StatusInteractionError Status = "InteractionError"
	StatusTimeoutError     Status = "TimeoutError"
	StatusSystemError      Status = "SystemError"
	StatusObstacleTimeout  Status = "ObstacleTimeout"
)

// AllStatuses lists every status in display order.
var AllStatuses = []Status{
	StatusPending,
	StatusSuccess,
	StatusNotFoundListing,
	StatusNotFoundDetail,
	StatusInteractionError,
	StatusTimeoutError,
	StatusSystemError,
	StatusObstacleTimeout,
}

// statusKeys maps folded status text to a status. Besides the canonical
// names it carries the Vietnamese labels older checkpoints were written with.
var statusKeys = map[string]Status{
	"":                             StatusPending,
	"pending":                      StatusPending,
	"chuaxuly":                     StatusPending,
	"success":                      StatusSuccess,
	"thanhcong":                    StatusSuccess,
	"notfoundlisting":              StatusNotFoundListing,
	"khongtimthaydangdanhsach":     StatusNotFoundListing,
	"notfounddetail":               StatusNotFoundDetail,
	"khongtimthaythongtinchitiet":  StatusNotFoundDetail,
	"interactionerror":             StatusInteractionError,
	"loituongtacsearch":            StatusInteractionError,
	"timeouterror":                 StatusTimeoutError,
	"ketnoithatbaitimeout":         StatusTimeoutError,
	"systemerror":                  StatusSystemError,
	"loihethong":                   StatusSystemError,
	"obstacletimeout":              StatusObstacleTimeout,
	"loiquathoigianchotatquangcao": StatusObstacleTimeout,
}

// ParseStatus maps persisted status text to a Status. Matching ignores case,
// diacritics, spacing and punctuation. Unrecognized text is Pending so that
// such records are looked up again.
func ParseStatus(s string) Status {
	if st, ok := statusKeys[textnorm.Key(s)]; ok {
		return st
	}
	return StatusPending
}

func (s Status) String() string {
	return string(s)
}

// Eligible reports whether a record in this status should be looked up.
func (s Status) Eligible() bool {
	return s != StatusSuccess
}

// NotFound reports whether the site answered but had nothing for the subject.
func (s Status) NotFound() bool {
	return s == StatusNotFoundListing || s == StatusNotFoundDetail
}

// SessionError reports whether the attempt failed in a way a fresh browser
// session might fix.
func (s Status) SessionError() bool {
	switch s {
	case StatusInteractionError, StatusTimeoutError, StatusSystemError, StatusObstacleTimeout:
		return true
	default:
		return false
	}
}
