// Copyright (C) 2025, ADXYZ Inc. All rights reserved.
// See the file LICENSE for licensing terms.

package macro

import (
	"github.com/prebid/openrtb/v20/openrtb2"
)

// ContextFromBidRequest seeds the environment half of a Context from the
// bid request that won the ad. Playback fields are left for the caller.
// Device identifiers and the LMT flag are not copied: they are never
// produced client-side.
func ContextFromBidRequest(req *openrtb2.BidRequest) Context {
	var ctx Context
	if req == nil {
		return ctx
	}

	if req.Site != nil {
		ctx.PageURL = req.Site.Page
		ctx.Domain = req.Site.Domain
	}
	if req.App != nil && ctx.Domain == "" {
		ctx.Domain = req.App.Domain
	}
	if req.Device != nil {
		ctx.UserAgent = req.Device.UA
	}

	for _, imp := range req.Imp {
		if imp.Video == nil {
			continue
		}
		if imp.Video.W != nil {
			ctx.PlayerWidth = int(*imp.Video.W)
		}
		if imp.Video.H != nil {
			ctx.PlayerHeight = int(*imp.Video.H)
		}
		break
	}
	return ctx
}
