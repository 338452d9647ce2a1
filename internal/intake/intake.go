// Package intake filters selected files down to audio and merges them into
// the working set.
package intake

import (
	"strings"
	"time"

	"github.com/omnilingual-asr/transcriber/internal/models"
)

// DefaultExtensions is the extension allow-list used when none is configured.
var DefaultExtensions = []string{".wav", ".mp3", ".m4a", ".ogg", ".flac"}

// RawFile is a file as received from the browser's selection.
type RawFile struct {
	Name         string
	Size         int64
	LastModified int64 // Unix ms
	MediaType    string
	BlobID       string
}

// Key returns the composite identity of the raw file.
func (r RawFile) Key() models.FileKey {
	return models.FileKey{Name: r.Name, Size: r.Size, LastModified: r.LastModified}
}

// AllowList decides which incoming files count as audio.
type AllowList struct {
	MediaPrefix string
	Extensions  []string
}

// DefaultAllowList accepts audio/* media types and DefaultExtensions.
func DefaultAllowList() AllowList {
	return AllowList{MediaPrefix: "audio/", Extensions: DefaultExtensions}
}

// Allowed reports whether the file is audio by media type or extension.
func (a AllowList) Allowed(name, mediaType string) bool {
	if a.MediaPrefix != "" && strings.HasPrefix(strings.ToLower(mediaType), a.MediaPrefix) {
		return true
	}
	lower := strings.ToLower(name)
	for _, ext := range a.Extensions {
		if strings.HasSuffix(lower, strings.ToLower(ext)) {
			return true
		}
	}
	return false
}

// Result is the outcome of merging a selection into the working set.
type Result struct {
	Files []models.AudioFile // merged working set
	Added []models.AudioFile // incoming files that made it into Files

	// Rejected are incoming files that did not pass the allow-list.
	Rejected []RawFile
	// Replaced are previous entries overwritten by an incoming file with the same key.
	Replaced []models.AudioFile
}

// AddFiles filters incoming to audio files and merges them with existing,
// deduplicating on the composite key. The last entry seen for a key wins, but
// it keeps the position of the first one.
func AddFiles(existing []models.AudioFile, incoming []RawFile, allow AllowList) Result {
	var res Result

	index := make(map[models.FileKey]int, len(existing)+len(incoming))
	files := make([]models.AudioFile, 0, len(existing)+len(incoming))
	for _, f := range existing {
		if i, ok := index[f.Key]; ok {
			files[i] = f
			continue
		}
		index[f.Key] = len(files)
		files = append(files, f)
	}

	now := time.Now()
	added := make(map[models.FileKey]int)
	for _, raw := range incoming {
		if !allow.Allowed(raw.Name, raw.MediaType) {
			res.Rejected = append(res.Rejected, raw)
			continue
		}

		f := models.AudioFile{
			Key:       raw.Key(),
			MediaType: raw.MediaType,
			BlobID:    raw.BlobID,
			AddedAt:   now,
		}

		if i, ok := index[f.Key]; ok {
			res.Replaced = append(res.Replaced, files[i])
			files[i] = f
		} else {
			index[f.Key] = len(files)
			files = append(files, f)
		}

		if j, ok := added[f.Key]; ok {
			res.Added[j] = f
		} else {
			added[f.Key] = len(res.Added)
			res.Added = append(res.Added, f)
		}
	}

	res.Files = files
	return res
}
