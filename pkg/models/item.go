// Package models defines the data structures used throughout the application
package models

import (
	"fmt"
	"time"
)

// ItemStatus represents the current pipeline status of an item
type ItemStatus string

const (
	StatusPending     ItemStatus = "pending"
	StatusDownloading ItemStatus = "downloading"
	StatusDownloaded  ItemStatus = "downloaded"
	StatusProcessed   ItemStatus = "processed"
	StatusMetadata    ItemStatus = "metadata"
	StatusDeduped     ItemStatus = "deduped"
	StatusFailed      ItemStatus = "failed"
	StatusSkipped     ItemStatus = "skipped"
)

// MediaType classifies the payload of an item. It starts from the export
// listing's claim and may be corrected once the real payload is inspected.
type MediaType string

const (
	MediaImage   MediaType = "image"
	MediaVideo   MediaType = "video"
	MediaUnknown MediaType = "unknown"
)

// MethodHint selects the fetch resolution strategy for an item
type MethodHint string

const (
	MethodGet  MethodHint = "GET"
	MethodPost MethodHint = "POST"
	MethodNone MethodHint = ""
)

// FailureStage attributes a terminal item failure to the pipeline stage
// that produced it
type FailureStage string

const (
	StageDownload     FailureStage = "download"
	StageComposition  FailureStage = "payload-composition"
	StageMetadata     FailureStage = "metadata"
	StageVerification FailureStage = "verification"
	StageOther        FailureStage = "other"
)

// Item is one media unit from the export listing. Index is the ordinal
// position in the export and is the resume key: it must never be reassigned
// across runs of the same export.
type Item struct {
	Index         int
	CapturedAt    time.Time
	CapturedAtRaw string
	MediaType     MediaType
	Latitude      float64
	Longitude     float64
	HasLocation   bool
	DownloadURL   string
	MethodHint    MethodHint

	Status           ItemStatus
	DownloadedPath   string
	FinalPath        string
	ContentHash      string
	Attempts         int
	FailureStage     FailureStage
	Errors           []string
	IsArchivePayload bool
}

// RecordError appends a human-readable cause to the item's error list.
// The list is append-only and is never cleared.
func (i *Item) RecordError(err error) {
	if err == nil {
		return
	}
	i.Errors = append(i.Errors, err.Error())
}

// Fail marks the item failed with stage attribution and records the cause
func (i *Item) Fail(stage FailureStage, err error) {
	i.Status = StatusFailed
	i.FailureStage = stage
	i.RecordError(err)
}

// Terminal reports whether the item reached a terminal state for this run
func (i *Item) Terminal() bool {
	return i.Status == StatusFailed || i.Status == StatusSkipped || i.Status == StatusDeduped
}

// CanonicalName returns the finalized filename stem for the item:
// capture stamp, media type and zero-padded index
func (i *Item) CanonicalName() string {
	return fmt.Sprintf("%s_%s_%05d", i.CapturedAt.UTC().Format("20060102_150405"), i.MediaType, i.Index)
}
