package commands

import (
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"text/tabwriter"
)

const (
	formatJSON  = "json"
	formatTable = "table"
)

// errUnsupportedFormat is returned when the requested output format is not supported.
var errUnsupportedFormat = errors.New("unsupported output format")

func formatBibEntries(entries []bibView, format string) (string, error) {
	switch format {
	case formatJSON:
		return marshalJSON(entries)
	case formatTable:
		return formatBibTable(entries), nil
	default:
		return "", fmt.Errorf("%w: %q", errUnsupportedFormat, format)
	}
}

func formatBibEntry(entry bibView, format string) (string, error) {
	switch format {
	case formatJSON:
		return marshalJSON(entry)
	case formatTable:
		return formatBibTable([]bibView{entry}), nil
	default:
		return "", fmt.Errorf("%w: %q", errUnsupportedFormat, format)
	}
}

func formatSessions(sessions []sessionView, format string) (string, error) {
	switch format {
	case formatJSON:
		return marshalJSON(sessions)
	case formatTable:
		return formatSessionsTable(sessions), nil
	default:
		return "", fmt.Errorf("%w: %q", errUnsupportedFormat, format)
	}
}

func formatStats(stats []statsView, format string) (string, error) {
	switch format {
	case formatJSON:
		return marshalJSON(stats)
	case formatTable:
		return formatStatsTable(stats), nil
	default:
		return "", fmt.Errorf("%w: %q", errUnsupportedFormat, format)
	}
}

func marshalJSON(v any) (string, error) {
	data, err := json.MarshalIndent(v, "", "  ")
	if err != nil {
		return "", fmt.Errorf("marshal to JSON: %w", err)
	}
	return string(data), nil
}

func formatBibTable(entries []bibView) string {
	var buf strings.Builder
	w := tabwriter.NewWriter(&buf, 0, 0, 2, ' ', 0)
	fmt.Fprintln(w, "PROTO\tIPV6\tIPV4\tSTATIC\tREFCOUNT")

	for _, e := range entries {
		fmt.Fprintf(w, "%s\t%s\t%s\t%v\t%d\n", e.Proto, e.IPv6, e.IPv4, e.IsStatic, e.Refcount)
	}

	_ = w.Flush()
	return buf.String()
}

func formatSessionsTable(sessions []sessionView) string {
	var buf strings.Builder
	w := tabwriter.NewWriter(&buf, 0, 0, 2, ' ', 0)
	fmt.Fprintln(w, "PROTO\tLOCAL6\tREMOTE6\tLOCAL4\tREMOTE4\tSTATE\tEXPIRY")

	for _, s := range sessions {
		fmt.Fprintf(w, "%s\t%s\t%s\t%s\t%s\t%d\t%s\n",
			s.Proto, s.Local6, s.Remote6, s.Local4, s.Remote4, s.State, s.Expiry)
	}

	_ = w.Flush()
	return buf.String()
}

func formatStatsTable(stats []statsView) string {
	var buf strings.Builder
	w := tabwriter.NewWriter(&buf, 0, 0, 2, ' ', 0)
	fmt.Fprintln(w, "PROTO\tBIB\tSESSIONS")

	for _, s := range stats {
		fmt.Fprintf(w, "%s\t%d\t%d\n", s.Proto, s.BibCount, s.SessionCount)
	}

	_ = w.Flush()
	return buf.String()
}
