package models

// PersistedRecord is the durable subset of Item state keyed by Index. It is
// created on the first fetch attempt, merged (never replaced) on every
// subsequent attempt, and loaded at run start to skip already-downloaded items.
type PersistedRecord struct {
	Index          int          `json:"index"`
	Status         ItemStatus   `json:"status"`
	MediaType      MediaType    `json:"media_type,omitempty"`
	DownloadedPath string       `json:"downloaded_path,omitempty"`
	FinalPath      string       `json:"final_path,omitempty"`
	ContentHash    string       `json:"content_hash,omitempty"`
	Errors         []string     `json:"errors,omitempty"`
	Attempts       int          `json:"attempts,omitempty"`
	FailureStage   FailureStage `json:"failure_stage,omitempty"`
}

// RecordFromItem captures the durable fields of an item
func RecordFromItem(item *Item) *PersistedRecord {
	return &PersistedRecord{
		Index:          item.Index,
		Status:         item.Status,
		MediaType:      item.MediaType,
		DownloadedPath: item.DownloadedPath,
		FinalPath:      item.FinalPath,
		ContentHash:    item.ContentHash,
		Errors:         append([]string(nil), item.Errors...),
		Attempts:       item.Attempts,
		FailureStage:   item.FailureStage,
	}
}

// ApplyTo restores the record's fields onto a freshly parsed item
func (r *PersistedRecord) ApplyTo(item *Item) {
	if r.Status != "" {
		item.Status = r.Status
	}
	// Payload inspection may have corrected the export's media-type claim;
	// the corrected kind names the file on disk, so it must win on restore.
	if r.MediaType != "" && r.MediaType != MediaUnknown {
		item.MediaType = r.MediaType
	}
	if r.DownloadedPath != "" {
		item.DownloadedPath = r.DownloadedPath
	}
	if r.FinalPath != "" {
		item.FinalPath = r.FinalPath
	}
	if r.ContentHash != "" {
		item.ContentHash = r.ContentHash
	}
	if len(r.Errors) > 0 {
		item.Errors = append([]string(nil), r.Errors...)
	}
	if r.Attempts > item.Attempts {
		item.Attempts = r.Attempts
	}
	if r.FailureStage != "" {
		item.FailureStage = r.FailureStage
	}
}
