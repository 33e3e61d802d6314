package domain

import "time"

type FileStatus string

const (
	FileStatusPending    FileStatus = "pending"
	FileStatusQueuing    FileStatus = "queuing"
	FileStatusProcessing FileStatus = "processing"
	FileStatusSuccess    FileStatus = "success"
	FileStatusFailed     FileStatus = "failed"
	FileStatusCancelled  FileStatus = "cancelled"
)

// ActiveFileStatuses are the states in which the pipeline still owns the file.
var ActiveFileStatuses = []FileStatus{
	FileStatusPending,
	FileStatusQueuing,
	FileStatusProcessing,
}

// FinishedFileStatuses are the terminal states a user may retry from.
var FinishedFileStatuses = []FileStatus{
	FileStatusSuccess,
	FileStatusFailed,
	FileStatusCancelled,
}

// IsActive reports whether the pipeline may still move the file forward.
func (s FileStatus) IsActive() bool {
	return statusIn(s, ActiveFileStatuses)
}

// IsFinished reports whether the status is terminal.
func (s FileStatus) IsFinished() bool {
	return statusIn(s, FinishedFileStatuses)
}

func (s FileStatus) Valid() bool {
	return s.IsActive() || s.IsFinished()
}

func statusIn(s FileStatus, set []FileStatus) bool {
	for _, v := range set {
		if v == s {
			return true
		}
	}
	return false
}

// File is an uploaded file tracked through the processing pipeline.
type File struct {
	ID          int64
	UserID      int64
	Filename    string
	Status      FileStatus
	Size        int64
	Type        string
	URL         string
	ObjectPath  string
	Description *string
	CreatedAt   time.Time
	UpdatedAt   time.Time
}

type FileSortField string

const (
	FileSortCreatedAt FileSortField = "created_at"
	FileSortName      FileSortField = "name"
	FileSortStatus    FileSortField = "status"
)

type SortOrder string

const (
	SortAsc  SortOrder = "asc"
	SortDesc SortOrder = "desc"
)

// FileListQuery selects one 1-indexed page of a user's files.
type FileListQuery struct {
	UserID   int64
	Page     int
	PageSize int
	SortBy   FileSortField
	Order    SortOrder
}

func (q FileListQuery) Offset() int {
	if q.Page < 1 {
		return 0
	}
	return (q.Page - 1) * q.PageSize
}
