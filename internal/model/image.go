package model

import "time"

// ImageRecord describes one stored image blob.
type ImageRecord struct {
	ID           string    `json:"id"`
	StoredName   string    `json:"filename"`     // <unixMillis>_<originalName>
	OriginalName string    `json:"originalname"` // client supplied filename
	Size         int64     `json:"size"`
	MimeType     string    `json:"mimetype"`
	PublicPath   string    `json:"url"` // relative URL the blob is served under
	UploadedAt   time.Time `json:"uploadTime"`
}

// ImageRecordView is an ImageRecord with the absolute URL resolved by the sender.
type ImageRecordView struct {
	ImageRecord
	FullURL string `json:"fullUrl"`
}

// BlobInfo is a single entry returned by a blob store listing.
type BlobInfo struct {
	Name    string
	Size    int64
	Regular bool // false for directories and other non-file entries
	ModTime time.Time
}
