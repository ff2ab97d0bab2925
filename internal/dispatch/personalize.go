package dispatch

import (
	"path"
	"regexp"
	"strings"

	"github.com/ianampudia11/mecom-sub003/internal/domain"
	"golang.org/x/text/unicode/norm"
)

var placeholderRe = regexp.MustCompile(`\{\{\s*([A-Za-z0-9_.\-]+)\s*\}\}`)

// Variables builds the substitution set of a recipient. Recipient variables
// override the built-in name, phone and email.
func Variables(r *domain.Recipient) map[string]string {
	vars := map[string]string{
		"name":  r.Name,
		"phone": r.Phone,
		"email": r.Email,
	}
	for k, v := range r.Variables {
		vars[k] = v
	}
	return vars
}

// Personalize replaces {{key}} placeholders. Unknown keys are left as is.
func Personalize(template string, vars map[string]string) string {
	out := placeholderRe.ReplaceAllStringFunc(template, func(m string) string {
		key := placeholderRe.FindStringSubmatch(m)[1]
		if v, ok := vars[key]; ok {
			return v
		}
		return m
	})
	return norm.NFC.String(out)
}

var (
	imageExts = map[string]bool{"jpg": true, "jpeg": true, "png": true, "gif": true, "webp": true}
	videoExts = map[string]bool{"mp4": true, "avi": true, "mov": true, "wmv": true, "3gp": true}
	audioExts = map[string]bool{"mp3": true, "wav": true, "ogg": true, "m4a": true, "aac": true}
)

// DetectMediaType guesses the media type from a URL path.
func DetectMediaType(url string) MediaType {
	p := strings.ToLower(stripQuery(url))
	ext := strings.TrimPrefix(path.Ext(p), ".")

	switch {
	case strings.Contains(p, "/image/") || imageExts[ext]:
		return MediaTypeImage
	case strings.Contains(p, "/video/") || videoExts[ext]:
		return MediaTypeVideo
	case strings.Contains(p, "/audio/") || audioExts[ext]:
		return MediaTypeAudio
	default:
		return MediaTypeDocument
	}
}

// MediaFileName returns the base name of a media URL.
func MediaFileName(url string) string {
	return path.Base(stripQuery(url))
}

func stripQuery(url string) string {
	if i := strings.IndexAny(url, "?#"); i >= 0 {
		return url[:i]
	}
	return url
}
