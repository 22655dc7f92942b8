// Copyright Mesh Intelligence Inc., 2026. All rights reserved.

package main

import (
	"fmt"
	"strconv"
	"strings"

	"github.com/spf13/cobra"

	"github.com/pdiddy/protocol-extractor/pkg/types"
)

func stringArray(cmd *cobra.Command, name string) []string {
	v, _ := cmd.Flags().GetStringArray(name)
	return v
}

// parsePairs parses key=value arguments.
func parsePairs(args []string) (map[string]string, error) {
	out := make(map[string]string, len(args))
	for _, a := range args {
		k, v, ok := strings.Cut(a, "=")
		k = strings.TrimSpace(k)
		if !ok || k == "" {
			return nil, fmt.Errorf("invalid key=value %q", a)
		}
		out[k] = strings.TrimSpace(v)
	}
	return out, nil
}

// parseFilter builds a search filter from --eq key=value, --in
// key=v1,v2, --range key=min:max (either bound may be empty), and
// --field flags.
func parseFilter(eq, in, ranges, fields []string) (types.Filter, error) {
	var f types.Filter

	if len(eq) > 0 {
		m, err := parsePairs(eq)
		if err != nil {
			return f, fmt.Errorf("--eq: %w", err)
		}
		f.Equals = m
	}

	if len(in) > 0 {
		m, err := parsePairs(in)
		if err != nil {
			return f, fmt.Errorf("--in: %w", err)
		}
		f.OneOf = make(map[string][]string, len(m))
		for k, v := range m {
			var set []string
			for _, s := range strings.Split(v, ",") {
				if s = strings.TrimSpace(s); s != "" {
					set = append(set, s)
				}
			}
			f.OneOf[k] = set
		}
	}

	if len(ranges) > 0 {
		m, err := parsePairs(ranges)
		if err != nil {
			return f, fmt.Errorf("--range: %w", err)
		}
		f.Ranges = make(map[string]types.NumericRange, len(m))
		for k, v := range m {
			r, err := parseRange(v)
			if err != nil {
				return f, fmt.Errorf("--range %s: %w", k, err)
			}
			f.Ranges[k] = r
		}
	}

	for _, s := range fields {
		id, err := types.ParseFieldID(s)
		if err != nil {
			return f, fmt.Errorf("--field: %w", err)
		}
		f.Fields = append(f.Fields, id)
	}
	return f, nil
}

func parseRange(s string) (types.NumericRange, error) {
	var r types.NumericRange
	lo, hi, ok := strings.Cut(s, ":")
	if !ok {
		return r, fmt.Errorf("expected min:max, got %q", s)
	}
	if lo = strings.TrimSpace(lo); lo != "" {
		v, err := strconv.ParseFloat(lo, 64)
		if err != nil {
			return r, fmt.Errorf("invalid minimum %q", lo)
		}
		r.Min = &v
	}
	if hi = strings.TrimSpace(hi); hi != "" {
		v, err := strconv.ParseFloat(hi, 64)
		if err != nil {
			return r, fmt.Errorf("invalid maximum %q", hi)
		}
		r.Max = &v
	}
	if r.Min != nil && r.Max != nil && *r.Min > *r.Max {
		return r, fmt.Errorf("minimum exceeds maximum in %q", s)
	}
	return r, nil
}
