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

func formatStatus(s *statusView, format string) (string, error) {
	switch format {
	case formatJSON:
		data, err := json.MarshalIndent(s, "", "  ")
		if err != nil {
			return "", fmt.Errorf("marshal status to JSON: %w", err)
		}
		return string(data), nil
	case formatTable:
		return formatStatusTable(s), nil
	default:
		return "", fmt.Errorf("%w: %q", errUnsupportedFormat, format)
	}
}

func formatStatusTable(s *statusView) string {
	var buf strings.Builder
	w := tabwriter.NewWriter(&buf, 0, 0, 2, ' ', 0)

	fmt.Fprintf(w, "Connected Clients:\t%d\n", s.ConnectedClients)
	fmt.Fprintf(w, "Registered Sessions:\t%d\n", s.RegisteredSessions)
	for _, wk := range s.Workers {
		fmt.Fprintf(w, "Worker %d Load:\t%d\n", wk.ID, wk.Load)
	}

	w.Flush()
	return buf.String()
}

func formatSessions(sessions []sessionView, format string) (string, error) {
	switch format {
	case formatJSON:
		data, err := json.MarshalIndent(sessions, "", "  ")
		if err != nil {
			return "", fmt.Errorf("marshal sessions to JSON: %w", err)
		}
		return string(data), nil
	case formatTable:
		return formatSessionsTable(sessions), nil
	default:
		return "", fmt.Errorf("%w: %q", errUnsupportedFormat, format)
	}
}

func formatSessionsTable(sessions []sessionView) string {
	var buf strings.Builder
	w := tabwriter.NewWriter(&buf, 0, 0, 2, ' ', 0)
	fmt.Fprintln(w, "IP\tPORT\tHOSTNAME\tMAPNAME\tGAME-TYPE\tUSERS\tMAX")

	for _, s := range sessions {
		fmt.Fprintf(w, "%s\t%d\t%s\t%s\t%c\t%d\t%d\n",
			s.IP, s.Port, s.Hostname, s.Mapname, s.GameType, s.CurrentUsers, s.MaxUsers)
	}

	w.Flush()
	return buf.String()
}
