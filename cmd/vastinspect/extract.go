// Copyright (C) 2025, ADXYZ Inc. All rights reserved.
// See the file LICENSE for licensing terms.

package main

import (
	"fmt"
	"io"
	"slices"
	"strings"

	"github.com/goccy/go-json"
	"github.com/spf13/cobra"

	"github.com/luxfi/vastinspect/pkg/vast"
)

func newExtractCommand(a *app) *cobra.Command {
	var asJSON bool
	cmd := &cobra.Command{
		Use:   "extract <url|file|->",
		Short: "Print the ad model and tracking catalog of a document",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			raw, err := a.readSource(cmd, args[0])
			if err != nil {
				return err
			}
			doc, cat, err := vast.ParseAndExtract(raw)
			if err != nil {
				return err
			}

			out := cmd.OutOrStdout()
			if asJSON {
				enc := json.NewEncoder(out)
				enc.SetIndent("", "  ")
				return enc.Encode(map[string]any{
					"document":      doc,
					"catalog":       cat,
					"unknownMacros": cat.UnknownMacros(),
				})
			}
			printDocument(out, doc, cat)
			return nil
		},
	}
	cmd.Flags().BoolVar(&asJSON, "json", false, "Print JSON instead of a summary")
	return cmd
}

// readSource reads stdin for "-", otherwise defers to the transport
func (a *app) readSource(cmd *cobra.Command, src string) ([]byte, error) {
	if src == "-" {
		return io.ReadAll(io.LimitReader(cmd.InOrStdin(), 4<<20))
	}
	tr, err := a.transport()
	if err != nil {
		return nil, err
	}
	raw, _, err := tr.FetchOrProvide(cmd.Context(), src)
	return raw, err
}

func printDocument(w io.Writer, doc *vast.Document, cat *vast.Catalog) {
	fmt.Fprintf(w, "%s %s, %d ad(s)\n", bold("VAST"), doc.Version, len(doc.Ads))
	for _, ad := range doc.Ads {
		fmt.Fprintf(w, "\n%s %s (%s)", bold("Ad"), ad.ID, ad.Variant)
		if ad.AdSystem.Name != "" {
			fmt.Fprintf(w, " by %s", ad.AdSystem.Name)
		}
		if ad.AdTitle != "" {
			fmt.Fprintf(w, ": %q", ad.AdTitle)
		}
		fmt.Fprintln(w)
		if ad.Pricing != nil && ad.Pricing.Valid {
			fmt.Fprintf(w, "  pricing  %s %s %s\n", ad.Pricing.Value.String(), ad.Pricing.Currency, ad.Pricing.Model)
		}
		if ad.VASTAdTagURI != "" {
			fmt.Fprintf(w, "  wrapper  %s\n", ad.VASTAdTagURI)
		}
		for _, cr := range ad.Creatives {
			if cr.Linear == nil {
				continue
			}
			fmt.Fprintf(w, "  linear   %s, %d media file(s)", cr.Linear.DurationRaw, len(cr.Linear.MediaFiles))
			if cr.Linear.SkipOffset != nil {
				fmt.Fprintf(w, ", skippable at %s", cr.Linear.SkipOffset.Raw)
			}
			fmt.Fprintln(w)
			for _, mf := range cr.Linear.MediaFiles {
				fmt.Fprintf(w, "    %s %s\n", mediaTag(mf), gray(mf.URL))
			}
		}
	}

	fmt.Fprintf(w, "\n%s %d url(s)\n", bold("Tracking"), cat.Len())
	fmt.Fprintf(w, "  impression  %d\n", len(cat.Impressions))
	fmt.Fprintf(w, "  error       %d\n", len(cat.Errors))
	fmt.Fprintf(w, "  click       %d\n", len(cat.Clicks))
	for _, name := range eventNames(cat) {
		fmt.Fprintf(w, "  %-11s %d\n", name, len(cat.Events[name]))
	}
	if unknown := cat.UnknownMacros(); len(unknown) > 0 {
		fmt.Fprintf(w, "\n%s %s\n", yellow("unknown macros:"), strings.Join(unknown, " "))
	}
}

func mediaTag(mf vast.MediaFile) string {
	api := mf.APIFramework
	if mf.Framework != 0 {
		api = fmt.Sprintf("%s adcom:%d", api, mf.Framework)
	}
	switch {
	case mf.Interactive:
		return cyan(fmt.Sprintf("[interactive %s]", api))
	case mf.RequiresExternalRuntime:
		return yellow(strings.TrimSpace("[legacy "+mf.MIMEType+" "+api) + "]")
	}
	return fmt.Sprintf("[%s %dx%d]", mf.MIMEType, mf.Width, mf.Height)
}

func eventNames(cat *vast.Catalog) []string {
	names := make([]string, 0, len(cat.Events))
	for name := range cat.Events {
		names = append(names, name)
	}
	slices.Sort(names)
	return names
}
