package imtypes

// FileInfo 描述一个已上传的附件。Path 是存储内部的标识, 访问时换取短期签名 URL。
type FileInfo struct {
	Path     string `json:"path"`
	Size     int64  `json:"size"`
	MimeType string `json:"mimeType"`
	FileName string `json:"fileName"`
}
