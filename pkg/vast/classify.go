// Copyright (C) 2025, ADXYZ Inc. All rights reserved.
// See the file LICENSE for licensing terms.

package vast

import (
	"strings"

	"github.com/prebid/openrtb/v20/adcom1"
)

// Capability tokens matched case-insensitively as substrings of apiFramework
const (
	interactiveToken   = "SIMID"
	legacyRuntimeToken = "VPAID"
	omidToken          = "OMID"
)

// MIME types that need an external script or plugin runtime
var legacyMIMETypes = map[string]struct{}{
	"application/x-shockwave-flash": {},
	"application/javascript":        {},
	"application/x-javascript":      {},
}

// classify sets the derived flags independently. Which one wins is up to
// media selection.
func classify(mf *MediaFile) {
	tag := strings.ToUpper(strings.TrimSpace(mf.APIFramework))
	mf.Interactive = strings.Contains(tag, interactiveToken)
	_, legacyMIME := legacyMIMETypes[strings.ToLower(strings.TrimSpace(mf.MIMEType))]
	mf.RequiresExternalRuntime = strings.Contains(tag, legacyRuntimeToken) || legacyMIME
	mf.Framework, _ = mf.APIFrameworkID()
}

// APIFrameworkID maps the free-text capability tag onto the AdCOM API
// framework list. ok is false when the tag names no known framework.
func (mf *MediaFile) APIFrameworkID() (adcom1.APIFramework, bool) {
	tag := strings.ToUpper(mf.APIFramework)
	switch {
	case strings.Contains(tag, interactiveToken):
		if strings.Contains(tag, "1.1") {
			return adcom1.APISIMID11, true
		}
		return adcom1.APISIMID10, true
	case strings.Contains(tag, legacyRuntimeToken):
		if strings.Contains(tag, "1.0") || strings.HasSuffix(tag, "VPAID1") {
			return adcom1.APIVPAID10, true
		}
		return adcom1.APIVPAID20, true
	case strings.Contains(tag, omidToken):
		return adcom1.APIOMID10, true
	case strings.Contains(tag, "MRAID"):
		switch {
		case strings.Contains(tag, "3"):
			return adcom1.APIMRAID30, true
		case strings.Contains(tag, "2"):
			return adcom1.APIMRAID20, true
		}
		return adcom1.APIMRAID10, true
	}
	return 0, false
}
