// Copyright (C) 2025, ADXYZ Inc. All rights reserved.
// See the file LICENSE for licensing terms.

package lifecycle

import (
	"errors"
	"mime"
	"strings"

	"github.com/luxfi/vastinspect/pkg/vast"
)

// ErrNoPlayableMedia is returned when a creative declares no media files
var ErrNoPlayableMedia = errors.New("no playable media")

// Progressive formats in preference order
var preferredMIMETypes = []string{"video/mp4", "video/webm", "video/ogg"}

// Selection is the playback plan for one linear creative. Primary is what
// the run presents; Video is what the media surface plays and may be nil
// when only an interactive file is declared.
type Selection struct {
	Primary vast.MediaFile  `json:"primary"`
	Video   *vast.MediaFile `json:"video,omitempty"`
}

// Interactive reports whether the primary file is an interactive creative
func (s Selection) Interactive() bool {
	return s.Primary.Interactive
}

// SelectMedia applies the selection policy: an interactive file first,
// then the first playable file in format preference order, then the first
// declared file
func SelectMedia(files []vast.MediaFile, canPlay func(mimeType string) bool) (Selection, error) {
	if len(files) == 0 {
		return Selection{}, ErrNoPlayableMedia
	}
	if canPlay == nil {
		canPlay = func(string) bool { return false }
	}

	var interactive *vast.MediaFile
	video := make([]vast.MediaFile, 0, len(files))
	for i := range files {
		if files[i].Interactive {
			if interactive == nil {
				interactive = &files[i]
			}
			continue
		}
		video = append(video, files[i])
	}

	var sel Selection
	if v := pickVideo(video, canPlay); v != nil {
		sel.Video = v
		sel.Primary = *v
	}
	if interactive != nil {
		sel.Primary = *interactive
	}
	return sel, nil
}

func pickVideo(files []vast.MediaFile, canPlay func(string) bool) *vast.MediaFile {
	if len(files) == 0 {
		return nil
	}
	for _, want := range preferredMIMETypes {
		for i := range files {
			mt := baseMIME(files[i].MIMEType)
			if mt == want && canPlay(mt) {
				return &files[i]
			}
		}
	}
	return &files[0]
}

func baseMIME(raw string) string {
	mt, _, err := mime.ParseMediaType(raw)
	if err != nil {
		return strings.ToLower(strings.TrimSpace(raw))
	}
	return mt
}
