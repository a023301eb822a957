package manifest

import (
	"path"
	"strings"
)

// DefaultMimeType is recorded for files whose extension is not in the table.
const DefaultMimeType = "application/octet-stream"

// mimeTypes maps lowercase file extensions to the types recorded in build
// manifests. Lookups never inspect file content, so a manifest depends only
// on the tree listing.
var mimeTypes = map[string]string{
	".appcache": "text/cache-manifest",
	".css":      "text/css",
	".csv":      "text/csv",
	".eot":      "application/vnd.ms-fontobject",
	".gif":      "image/gif",
	".htm":      "text/html",
	".html":     "text/html",
	".ico":      "image/x-icon",
	".jpeg":     "image/jpeg",
	".jpg":      "image/jpeg",
	".js":       "application/javascript",
	".json":     "application/json",
	".map":      "application/json",
	".md":       "text/markdown",
	".mp3":      "audio/mpeg",
	".mp4":      "video/mp4",
	".ogg":      "audio/ogg",
	".otf":      "font/otf",
	".pdf":      "application/pdf",
	".php":      "application/x-httpd-php",
	".png":      "image/png",
	".scss":     "text/x-scss",
	".svg":      "image/svg+xml",
	".swf":      "application/x-shockwave-flash",
	".ttf":      "font/ttf",
	".txt":      "text/plain",
	".wav":      "audio/wav",
	".webm":     "video/webm",
	".webp":     "image/webp",
	".woff":     "font/woff",
	".woff2":    "font/woff2",
	".xml":      "application/xml",
	".zip":      "application/zip",
}

// MimeType returns the type for name based on its extension alone.
func MimeType(name string) string {
	if t, ok := mimeTypes[strings.ToLower(path.Ext(name))]; ok {
		return t
	}

	return DefaultMimeType
}
