package convert

import (
	"io"
	"mime"

	"github.com/gabriel-vasile/mimetype"
)

// SniffExtension は内容から拡張子（"." 付き）を推測します。判別できない場合は空文字を返します。
// r は読み取り後に先頭へ戻されます。
func SniffExtension(r io.ReadSeeker) string {
	mt, err := mimetype.DetectReader(r)
	if _, seekErr := r.Seek(0, io.SeekStart); seekErr != nil {
		return ""
	}
	if err != nil || mt == nil {
		return ""
	}
	if mt.Is("application/octet-stream") {
		return ""
	}
	return mt.Extension()
}

// ContentTypeFor はダウンロード時の Content-Type を返します。
func ContentTypeFor(target string) string {
	target = NormalizeTarget(target)
	if target == "" {
		return "application/octet-stream"
	}
	if ct := mime.TypeByExtension("." + target); ct != "" {
		return ct
	}
	switch target {
	case "docx":
		return "application/vnd.openxmlformats-officedocument.wordprocessingml.document"
	case "xlsx":
		return "application/vnd.openxmlformats-officedocument.spreadsheetml.sheet"
	case "webp":
		return "image/webp"
	case "heic":
		return "image/heic"
	default:
		return "application/octet-stream"
	}
}
