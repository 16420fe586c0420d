package download

import (
	"net/url"
	"path"
	"path/filepath"
	"strings"
)

const defaultExtension = ".mkv"

var videoExtensions = map[string]struct{}{
	".mp4":  {},
	".mkv":  {},
	".avi":  {},
	".mov":  {},
	".wmv":  {},
	".flv":  {},
	".webm": {},
	".m4v":  {},
	".mpg":  {},
	".mpeg": {},
	".ts":   {},
}

// sanitizeTitle strips filesystem-invalid characters and trailing dots or
// spaces from a media title so it can be used as a filename stem.
func sanitizeTitle(title string) string {
	var b strings.Builder

	for _, r := range title {
		switch {
		case r < 0x20:
		case strings.ContainsRune(`<>:"/\|?*`, r):
		default:
			b.WriteRune(r)
		}
	}

	return strings.TrimRight(b.String(), ". ")
}

// inferExtension extracts a known media extension from the source locator.
// URLs are parsed first so query strings never leak into the extension.
func inferExtension(locator string) string {
	name := locator

	if strings.HasPrefix(locator, "http://") || strings.HasPrefix(locator, "https://") {
		if u, err := url.Parse(locator); err == nil {
			name = u.Path
		}
	}

	ext := strings.ToLower(path.Ext(name))
	if _, ok := videoExtensions[ext]; ok {
		return ext
	}

	return defaultExtension
}

// destinationName builds the destination filename for a download. The stem
// is the sanitized title, falling back to the download id when the title
// sanitizes to nothing.
func destinationName(title, locator, id string) string {
	stem := sanitizeTitle(title)
	if stem == "" {
		stem = id
	}

	return stem + inferExtension(locator)
}

// destinationPath joins the per-user download directory and filename.
func destinationPath(destDir, title, locator, id string) string {
	return filepath.Join(destDir, destinationName(title, locator, id))
}
