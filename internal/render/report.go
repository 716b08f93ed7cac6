package render

import (
	"fmt"
	"time"

	"github.com/nd-schmidt/pimonitor/internal/aggregator"
)

const (
	AttentionTitle = "ATTENTION TABLE"
	AllGood        = "ALL GOOD! No node needs attention right now"
)

// ReportHeaders are the columns of the fleet report table.
var ReportHeaders = []string{"RPI-ID", "MAC", "ETH_STATUS", "WIFI_STATUS", "LAST_REPORT", "ATTN"}

// ReportRows returns one report table row per entry, in table order.
func ReportRows(t aggregator.Table) [][]string {
	rows := make([][]string, 0, len(t))

	for _, e := range t {
		rows = append(rows, []string{
			e.Report.FleetID,
			e.Report.HardwareAddress,
			string(e.Classification.Wired),
			string(e.Classification.Wireless),
			LastReport(e.Report.DisplayAge()),
			e.Classification.State.Label(),
		})
	}

	return rows
}

// LastReport formats a report age for the LAST_REPORT column.
func LastReport(age time.Duration) string {
	minutes := int(age / time.Minute)

	switch {
	case minutes < 2:
		return fmt.Sprintf("%d min ago", minutes)
	case minutes < 60:
		return fmt.Sprintf("%d mins ago", minutes)
	default:
		return fmt.Sprintf("%d:%02d hrs ago", minutes/60, minutes%60)
	}
}

// Report renders the fleet report: the full table and then either the attention
// table or the all good banner.
func Report(t aggregator.Table, limit int) ([]string, error) {
	blocks, err := Chunk("", ReportHeaders, ReportRows(t), limit)
	if err != nil {
		return nil, err
	}

	attention := t.Attention()
	if len(attention) == 0 {
		return append(blocks, AlertBanner(AllGood)), nil
	}

	attnBlocks, err := Chunk(AttentionTitle, ReportHeaders, ReportRows(attention), limit)
	if err != nil {
		return nil, err
	}

	return append(blocks, attnBlocks...), nil
}
