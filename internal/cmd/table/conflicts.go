package table

import (
	"slices"
	"strconv"
	"strings"

	"github.com/agentstation/syncledger/pkg/conflicts"
)

// ConflictsToTableData converts conflicts to table format.
func ConflictsToTableData(list []*conflicts.Conflict) Data {
	rows := make([][]string, 0, len(list))
	for _, c := range list {
		rows = append(rows, []string{
			c.ID,
			c.Email,
			string(c.Type),
			string(c.Severity),
			string(c.Status),
			orDash(c.Data.Field),
			suggestionString(c.Suggested),
			FormatTime(c.DetectedAt),
		})
	}
	return Data{
		Headers: []string{"ID", "Email", "Type", "Severity", "Status", "Field", "Suggested", "Detected"},
		Rows:    rows,
	}
}

// ConflictToTableData converts one conflict to a property table.
func ConflictToTableData(c *conflicts.Conflict) Data {
	pairs := [][2]string{
		{"ID", c.ID},
		{"Email", c.Email},
		{"User", orDash(c.UserID)},
		{"Sync Run", c.SyncRunID},
		{"Type", string(c.Type)},
		{"Severity", string(c.Severity)},
		{"Status", string(c.Status)},
		{"Detected", FormatTime(c.DetectedAt)},
		{"Platform", orDash(string(c.Data.Platform))},
		{"Field", orDash(c.Data.Field)},
		{"Existing", FormatValue(c.Data.ExistingValue)},
		{"New", FormatValue(c.Data.NewValue)},
	}
	if len(c.Data.Context) > 0 {
		pairs = append(pairs, [2]string{"Context", FormatValue(c.Data.Context)})
	}
	if s := c.Suggested; s != nil {
		pairs = append(pairs, [2]string{"Suggested", suggestionString(s)})
		if s.Reason != "" {
			pairs = append(pairs, [2]string{"Reason", s.Reason})
		}
	}
	if r := c.Resolution; r != nil {
		pairs = append(pairs,
			[2]string{"Resolution", string(r.Action)},
			[2]string{"Resolved By", r.ResolvedBy},
			[2]string{"Resolved", FormatTime(r.ResolvedAt)},
		)
		if r.Notes != "" {
			pairs = append(pairs, [2]string{"Notes", r.Notes})
		}
	}
	return KeyValue(pairs...)
}

// CountsToTableData lists conflict counts by status, severity and type.
func CountsToTableData(c conflicts.Counts) Data {
	rows := [][]string{{"total", "", FormatNumber(c.Total)}}
	for _, s := range conflicts.Statuses() {
		rows = append(rows, []string{"status", string(s), FormatNumber(c.ByStatus[s])})
	}
	for _, s := range conflicts.Severities() {
		rows = append(rows, []string{"severity", string(s), FormatNumber(c.BySeverity[s])})
	}
	for _, t := range conflicts.Types() {
		if n := c.ByType[t]; n > 0 {
			rows = append(rows, []string{"type", string(t), FormatNumber(n)})
		}
	}
	return Data{
		Headers:         []string{"Group", "Key", "Count"},
		Rows:            rows,
		ColumnAlignment: []Align{AlignLeft, AlignLeft, AlignRight},
	}
}

// RulesToTableData converts an auto-resolution rule table.
func RulesToTableData(rs conflicts.RuleSet) Data {
	rows := make([][]string, 0, len(rs.Rules))
	for i, r := range rs.Rules {
		severities := "any"
		if len(r.Severities) > 0 {
			names := make([]string, len(r.Severities))
			for j, s := range r.Severities {
				names[j] = string(s)
			}
			severities = strings.Join(names, ", ")
		}
		fires := "no"
		if r.Confidence >= rs.MinConfidence {
			fires = "yes"
		}
		rows = append(rows, []string{
			strconv.Itoa(i + 1),
			string(r.Type),
			severities,
			string(r.Action),
			strconv.Itoa(r.Confidence),
			fires,
			r.Reason,
		})
	}
	return Data{
		Headers:         []string{"#", "Type", "Severities", "Action", "Confidence", "Fires", "Reason"},
		Rows:            rows,
		ColumnAlignment: []Align{AlignRight, AlignLeft, AlignLeft, AlignLeft, AlignRight, AlignCenter, AlignLeft},
	}
}

// AutoResolveToTableData summarizes an auto-resolve pass.
func AutoResolveToTableData(r conflicts.AutoResolveResult) Data {
	ids := slices.Clone(r.ResolvedIDs)
	slices.Sort(ids)
	return KeyValue(
		[2]string{"Resolved", FormatNumber(r.Resolved)},
		[2]string{"Skipped", FormatNumber(r.Skipped)},
		[2]string{"Resolved IDs", orDash(strings.Join(ids, ", "))},
	)
}

func suggestionString(s *conflicts.Suggestion) string {
	if s == nil {
		return "-"
	}
	return string(s.Action) + " (" + strconv.Itoa(s.Confidence) + "%)"
}
