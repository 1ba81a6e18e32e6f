// Copyright (C) 2025, ADXYZ Inc. All rights reserved.
// See the file LICENSE for licensing terms.

package vast

import (
	"errors"
	"strconv"
	"strings"

	"github.com/beevik/etree"
	"github.com/shopspring/decimal"
)

// Extract walks a parsed descriptor tree into the nested ad model and the
// flattened tracking catalog. The walk is total: missing or unparsable
// fields are left at their zero value and never fail the extraction.
func Extract(doc *etree.Document) (*Document, *Catalog, error) {
	if doc == nil {
		return nil, nil, &ParseError{Kind: Malformed, Err: errors.New("nil tree")}
	}
	root := doc.SelectElement("VAST")
	if root == nil {
		return nil, nil, &ParseError{Kind: NotAnAdDocument}
	}

	out := &Document{Version: root.SelectAttrValue("version", "")}
	for _, el := range root.SelectElements("Ad") {
		out.Ads = append(out.Ads, extractAd(el))
	}

	cat := NewCatalog()
	for i := range out.Ads {
		cat.appendAd(&out.Ads[i])
	}
	return out, cat, nil
}

func extractAd(el *etree.Element) Ad {
	ad := Ad{
		ID:       el.SelectAttrValue("id", ""),
		Sequence: optInt(el, "sequence"),
		Variant:  VariantUnknown,
	}

	var body *etree.Element
	if inline := el.SelectElement("InLine"); inline != nil {
		ad.Variant = VariantInline
		body = inline
	} else if wrapper := el.SelectElement("Wrapper"); wrapper != nil {
		ad.Variant = VariantWrapper
		ad.VASTAdTagURI = childText(wrapper, "VASTAdTagURI")
		ad.FallbackOnNoAd, _ = strconv.ParseBool(wrapper.SelectAttrValue("fallbackOnNoAd", "false"))
		body = wrapper
	}
	if body == nil {
		return ad
	}

	if sys := body.SelectElement("AdSystem"); sys != nil {
		ad.AdSystem = AdSystem{Name: text(sys), Version: sys.SelectAttrValue("version", "")}
	}
	ad.AdTitle = childText(body, "AdTitle")
	ad.Description = childText(body, "Description")
	ad.Advertiser = childText(body, "Advertiser")
	if p := body.SelectElement("Pricing"); p != nil {
		ad.Pricing = extractPricing(p)
	}
	ad.Impressions = urlEntries(body, "Impression")
	ad.Errors = urlEntries(body, "Error")

	if creatives := body.SelectElement("Creatives"); creatives != nil {
		for _, c := range creatives.SelectElements("Creative") {
			ad.Creatives = append(ad.Creatives, extractCreative(c))
		}
	}
	return ad
}

func extractPricing(el *etree.Element) *Pricing {
	p := &Pricing{
		Model:    el.SelectAttrValue("model", ""),
		Currency: el.SelectAttrValue("currency", ""),
		Raw:      text(el),
	}
	if v, err := decimal.NewFromString(p.Raw); err == nil {
		p.Value = v
		p.Valid = true
	}
	return p
}

func extractCreative(el *etree.Element) Creative {
	cr := Creative{
		ID:       el.SelectAttrValue("id", ""),
		AdID:     el.SelectAttrValue("adId", ""),
		Sequence: optInt(el, "sequence"),
		Kind:     KindUnknown,
	}

	switch {
	case el.SelectElement("Linear") != nil:
		cr.Kind = KindLinear
		cr.Linear = extractLinear(el.SelectElement("Linear"))
	case el.SelectElement("NonLinearAds") != nil:
		nla := el.SelectElement("NonLinearAds")
		cr.Kind = KindNonLinear
		for _, nl := range nla.SelectElements("NonLinear") {
			cr.NonLinears = append(cr.NonLinears, extractNonLinear(nl))
		}
		cr.Tracking = trackingEvents(nla)
	case el.SelectElement("CompanionAds") != nil:
		cr.Kind = KindCompanion
		for _, cp := range el.SelectElement("CompanionAds").SelectElements("Companion") {
			cr.Companions = append(cr.Companions, extractCompanion(cp))
		}
	}
	return cr
}

func extractLinear(el *etree.Element) *Linear {
	l := &Linear{
		DurationRaw:  childText(el, "Duration"),
		AdParameters: childText(el, "AdParameters"),
		Tracking:     trackingEvents(el),
	}
	l.Duration, _ = parseTimecode(l.DurationRaw)
	if raw := el.SelectAttrValue("skipoffset", ""); raw != "" {
		l.SkipOffset = parseOffset(raw)
	}

	if files := el.SelectElement("MediaFiles"); files != nil {
		for _, mf := range files.SelectElements("MediaFile") {
			l.MediaFiles = append(l.MediaFiles, extractMediaFile(mf))
		}
		for _, icf := range files.SelectElements("InteractiveCreativeFile") {
			l.MediaFiles = append(l.MediaFiles, extractInteractiveFile(icf))
		}
	}

	if clicks := el.SelectElement("VideoClicks"); clicks != nil {
		if ct := clicks.SelectElement("ClickThrough"); ct != nil {
			if u := urlEntry(ct); u.URL != "" {
				l.ClickThrough = &u
			}
		}
		l.ClickTrack = urlEntries(clicks, "ClickTracking")
		l.CustomClicks = urlEntries(clicks, "CustomClick")
	}
	return l
}

func extractMediaFile(el *etree.Element) MediaFile {
	mf := MediaFile{
		ID:           el.SelectAttrValue("id", ""),
		URL:          text(el),
		Delivery:     el.SelectAttrValue("delivery", ""),
		MIMEType:     el.SelectAttrValue("type", ""),
		Width:        attrInt(el, "width"),
		Height:       attrInt(el, "height"),
		Bitrate:      attrInt(el, "bitrate"),
		Codec:        el.SelectAttrValue("codec", ""),
		APIFramework: el.SelectAttrValue("apiFramework", ""),
	}
	classify(&mf)
	return mf
}

// InteractiveCreativeFile is the VAST 4.1 placement for SIMID creatives
func extractInteractiveFile(el *etree.Element) MediaFile {
	mf := MediaFile{
		URL:          text(el),
		MIMEType:     el.SelectAttrValue("type", ""),
		APIFramework: el.SelectAttrValue("apiFramework", interactiveToken),
	}
	classify(&mf)
	return mf
}

func extractNonLinear(el *etree.Element) NonLinear {
	nl := NonLinear{
		ID:           el.SelectAttrValue("id", ""),
		Width:        attrInt(el, "width"),
		Height:       attrInt(el, "height"),
		APIFramework: el.SelectAttrValue("apiFramework", ""),
		Resource:     extractResource(el),
		ClickTrack:   urlEntries(el, "NonLinearClickTracking"),
	}
	if ct := el.SelectElement("NonLinearClickThrough"); ct != nil {
		if u := urlEntry(ct); u.URL != "" {
			nl.ClickThrough = &u
		}
	}
	return nl
}

func extractCompanion(el *etree.Element) Companion {
	cp := Companion{
		ID:           el.SelectAttrValue("id", ""),
		Width:        attrInt(el, "width"),
		Height:       attrInt(el, "height"),
		AdSlotID:     el.SelectAttrValue("adSlotID", ""),
		APIFramework: el.SelectAttrValue("apiFramework", ""),
		Resource:     extractResource(el),
		AltText:      childText(el, "AltText"),
		ClickTrack:   urlEntries(el, "CompanionClickTracking"),
		Tracking:     trackingEvents(el),
	}
	if ct := el.SelectElement("CompanionClickThrough"); ct != nil {
		if u := urlEntry(ct); u.URL != "" {
			cp.ClickThrough = &u
		}
	}
	return cp
}

func extractResource(el *etree.Element) Resource {
	if r := el.SelectElement("StaticResource"); r != nil {
		return Resource{Kind: "static", CreativeType: r.SelectAttrValue("creativeType", ""), Value: text(r)}
	}
	if r := el.SelectElement("IFrameResource"); r != nil {
		return Resource{Kind: "iframe", Value: text(r)}
	}
	if r := el.SelectElement("HTMLResource"); r != nil {
		return Resource{Kind: "html", Value: text(r)}
	}
	return Resource{}
}

func trackingEvents(el *etree.Element) []TrackingEntry {
	te := el.SelectElement("TrackingEvents")
	if te == nil {
		return nil
	}
	var out []TrackingEntry
	for _, t := range te.SelectElements("Tracking") {
		u := text(t)
		if u == "" {
			continue
		}
		entry := TrackingEntry{Event: t.SelectAttrValue("event", ""), URL: u}
		if raw := t.SelectAttrValue("offset", ""); raw != "" {
			entry.Offset = parseOffset(raw)
		}
		out = append(out, entry)
	}
	return out
}

func urlEntries(el *etree.Element, tag string) []URLEntry {
	var out []URLEntry
	for _, c := range el.SelectElements(tag) {
		if u := urlEntry(c); u.URL != "" {
			out = append(out, u)
		}
	}
	return out
}

func urlEntry(el *etree.Element) URLEntry {
	return URLEntry{ID: el.SelectAttrValue("id", ""), URL: text(el)}
}

func childText(el *etree.Element, tag string) string {
	c := el.SelectElement(tag)
	if c == nil {
		return ""
	}
	return text(c)
}

// text concatenates the character data and CDATA children of el. Element
// text is often split into whitespace plus a CDATA section.
func text(el *etree.Element) string {
	var b strings.Builder
	for _, tok := range el.Child {
		if cd, ok := tok.(*etree.CharData); ok {
			b.WriteString(cd.Data)
		}
	}
	return strings.TrimSpace(b.String())
}

func attrInt(el *etree.Element, key string) int {
	n, err := strconv.Atoi(strings.TrimSpace(el.SelectAttrValue(key, "")))
	if err != nil {
		return 0
	}
	return n
}

func optInt(el *etree.Element, key string) *int {
	raw := strings.TrimSpace(el.SelectAttrValue(key, ""))
	if raw == "" {
		return nil
	}
	n, err := strconv.Atoi(raw)
	if err != nil {
		return nil
	}
	return &n
}
