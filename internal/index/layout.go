package index

import (
	"strings"

	"voicegrade/internal/blob"
	"voicegrade/internal/evaluation"
	"voicegrade/internal/textutil"
)

// DefaultRoot is the storage folder that holds the index and buckets.
const DefaultRoot = "/evaluations"

const (
	indexFileName = "index.json"
	detailFileExt = ".json"
)

// Layout maps records to storage paths. The bucket folder encodes the
// lifecycle stage: pending and review_requested records live under pending,
// submitted records under completed.
type Layout struct {
	Root string
}

// NewLayout returns a layout rooted at root, or DefaultRoot when blank.
func NewLayout(root string) Layout {
	if strings.TrimSpace(root) == "" {
		root = DefaultRoot
	}
	return Layout{Root: blob.CleanPath(root)}
}

// IndexPath is the location of the index document.
func (l Layout) IndexPath() string {
	return blob.Join(l.Root, indexFileName)
}

// BucketPath is the folder for a bucket.
func (l Layout) BucketPath(b evaluation.Bucket) string {
	return blob.Join(l.Root, string(b))
}

// DetailPath is the detail file location for id in bucket b.
func (l Layout) DetailPath(b evaluation.Bucket, id string) string {
	return blob.Join(l.BucketPath(b), textutil.SanitizeFileName(id)+detailFileExt)
}

// DetailPathFor is the detail file location for a record in its current
// status.
func (l Layout) DetailPathFor(rec evaluation.Record) string {
	return l.DetailPath(rec.Status.Bucket(), rec.ID)
}

// IsDetailFile reports whether a listed file name looks like a detail file.
func IsDetailFile(name string) bool {
	return strings.HasSuffix(strings.ToLower(name), detailFileExt) && !strings.HasPrefix(name, ".")
}

// IDFromFileName strips the detail extension.
func IDFromFileName(name string) string {
	return strings.TrimSuffix(name, detailFileExt)
}
