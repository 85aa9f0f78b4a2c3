package b2

// FileInfo describes a stored object as reported by the service once an
// upload completes.
type FileInfo struct {
	FileID        string
	FileName      string
	ContentLength int64
	ContentSHA1   string
	ContentType   string
}

// fileInfoResponse mirrors the b2_upload_file / b2_finish_large_file JSON
// response. Unexported — callers get FileInfo via toFileInfo() normalization.
type fileInfoResponse struct {
	FileID        string `json:"fileId"`
	FileName      string `json:"fileName"`
	ContentLength int64  `json:"contentLength"`
	ContentSHA1   string `json:"contentSha1"`
	ContentType   string `json:"contentType"`
}

func (f *fileInfoResponse) toFileInfo() FileInfo {
	return FileInfo{
		FileID:        f.FileID,
		FileName:      f.FileName,
		ContentLength: f.ContentLength,
		ContentSHA1:   f.ContentSHA1,
		ContentType:   f.ContentType,
	}
}
