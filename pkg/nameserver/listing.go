package nameserver

import (
	"sort"
	"strconv"
	"strings"
	"time"

	"github.com/olekukonko/tablewriter"
)

// renderLongListing formats the detailed VIEW table.
func renderLongListing(files []FileView) string {
	var buf strings.Builder
	table := tablewriter.NewWriter(&buf)
	table.SetHeader([]string{"NAME", "OWNER", "SIZE", "WORDS", "PRIMARY", "REPLICA", "MODIFIED"})
	table.SetBorder(false)
	table.SetAutoWrapText(false)
	table.SetAlignment(tablewriter.ALIGN_LEFT)

	sort.Slice(files, func(i, j int) bool { return files[i].Filename < files[j].Filename })
	for _, f := range files {
		table.Append([]string{
			f.Filename,
			f.Owner,
			strconv.FormatInt(f.Size, 10),
			strconv.FormatInt(f.WordCount, 10),
			placementLabel(f.HasPrimary, f.Primary),
			placementLabel(f.HasReplica, f.Replica),
			f.Modified.Format(time.DateTime),
		})
	}
	table.Render()
	return strings.TrimRight(buf.String(), "\n")
}

func placementLabel(set bool, ep SSEndpoint) string {
	if !set {
		return "-"
	}
	label := "ss" + strconv.Itoa(ep.ID)
	if !ep.Active {
		label += " (down)"
	}
	return label
}

// renderInfo formats the INFO reply as a key/value table.
func renderInfo(f FileView) string {
	var buf strings.Builder
	table := tablewriter.NewWriter(&buf)
	table.SetBorder(false)
	table.SetAutoWrapText(false)
	table.SetAlignment(tablewriter.ALIGN_LEFT)

	rows := [][]string{
		{"Name", f.Filename},
		{"Owner", f.Owner},
		{"Size", strconv.FormatInt(f.Size, 10)},
		{"Words", strconv.FormatInt(f.WordCount, 10)},
		{"Chars", strconv.FormatInt(f.CharCount, 10)},
		{"Primary", placementLabel(f.HasPrimary, f.Primary)},
		{"Replica", placementLabel(f.HasReplica, f.Replica)},
		{"Created", f.Created.Format(time.DateTime)},
		{"Modified", f.Modified.Format(time.DateTime)},
		{"Accessed", f.Accessed.Format(time.DateTime)},
	}
	if f.LastAccessedBy != "" {
		rows = append(rows, []string{"Last accessed by", f.LastAccessedBy})
	}
	if len(f.ACL) > 0 {
		var entries []string
		for user, level := range f.ACL {
			entries = append(entries, user+":"+level.String())
		}
		sort.Strings(entries)
		rows = append(rows, []string{"Access", strings.Join(entries, " ")})
	}
	for _, row := range rows {
		table.Append(row)
	}
	table.Render()
	return strings.TrimRight(buf.String(), "\n")
}
