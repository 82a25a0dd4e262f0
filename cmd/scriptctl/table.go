package main

import (
	"fmt"
	"strconv"
	"strings"

	"github.com/jedib0t/go-pretty/v6/table"
	"github.com/jedib0t/go-pretty/v6/text"

	"github.com/snarg/scriptsync/internal/align"
	"github.com/snarg/scriptsync/internal/database"
	"github.com/snarg/scriptsync/internal/timeline"
)

type columnAlignment int

const (
	alignLeft columnAlignment = iota
	alignRight
)

func renderTable(headers []string, rows [][]string, aligns []columnAlignment) string {
	columns := len(headers)
	if columns == 0 {
		return ""
	}

	tw := table.NewWriter()
	tw.SetStyle(table.StyleRounded)

	header := make(table.Row, columns)
	for i := range headers {
		header[i] = headers[i]
	}
	tw.AppendHeader(header)

	for _, row := range rows {
		r := make(table.Row, columns)
		for i := 0; i < columns; i++ {
			if i < len(row) {
				r[i] = row[i]
			} else {
				r[i] = ""
			}
		}
		tw.AppendRow(r)
	}

	configs := make([]table.ColumnConfig, 0, columns)
	for i := 0; i < columns; i++ {
		a := text.AlignLeft
		if i < len(aligns) && aligns[i] == alignRight {
			a = text.AlignRight
		}
		configs = append(configs, table.ColumnConfig{Number: i + 1, Align: a, AlignHeader: text.AlignLeft})
	}
	tw.SetColumnConfigs(configs)

	return tw.Render()
}

func seconds(v float64) string { return strconv.FormatFloat(v, 'f', 2, 64) }

// segmentTable lists each aligned line with its time span.
func segmentTable(segments []align.AlignedSegment) string {
	rows := make([][]string, 0, len(segments))
	for i, s := range segments {
		rows = append(rows, []string{
			strconv.Itoa(i + 1),
			seconds(s.Start),
			seconds(s.End),
			strconv.Itoa(len(s.Words)),
			truncate(s.ScriptLine, 60),
		})
	}
	return renderTable(
		[]string{"#", "Start", "End", "Words", "Line"},
		rows,
		[]columnAlignment{alignRight, alignRight, alignRight, alignRight, alignLeft},
	)
}

// reportTable summarizes the diagnostics of one run.
func reportTable(rep align.Report, status database.JobStatus) string {
	rows := [][]string{
		{"status", string(status)},
		{"strategy", string(rep.Strategy)},
		{"script lines", strconv.Itoa(rep.ScriptLines)},
		{"script tokens", strconv.Itoa(rep.ScriptTokens)},
		{"transcript words", strconv.Itoa(rep.TranscriptWords)},
		{"matched words", strconv.Itoa(rep.MatchedWords())},
		{"skipped tokens", strconv.Itoa(len(rep.Skipped))},
	}
	if len(rep.DroppedLines) > 0 {
		lines := make([]string, len(rep.DroppedLines))
		for i, l := range rep.DroppedLines {
			lines[i] = strconv.Itoa(l + 1)
		}
		rows = append(rows, []string{"dropped lines", strings.Join(lines, ", ")})
	}
	if m := rep.Mismatch; m != nil {
		rows = append(rows, []string{"count delta", fmt.Sprintf("%+d (%.0f%%)", m.Delta(), m.Ratio()*100)})
	}
	if rep.EmptyTranscript != nil {
		rows = append(rows, []string{"warning", "transcript has no words"})
	}
	return renderTable([]string{"Check", "Value"}, rows, nil)
}

// skippedTable lists script tokens that received no word.
func skippedTable(skipped []align.NoMatchForToken) string {
	rows := make([][]string, 0, len(skipped))
	for _, s := range skipped {
		best := seconds(s.BestScore)
		if s.Exhausted {
			best = "exhausted"
		}
		rows = append(rows, []string{strconv.Itoa(s.Line + 1), strconv.Itoa(s.TokenIndex), s.Token, best})
	}
	return renderTable(
		[]string{"Line", "Token #", "Token", "Best score"},
		rows,
		[]columnAlignment{alignRight, alignRight, alignLeft, alignRight},
	)
}

func slideTable(slides []timeline.Slide) string {
	rows := make([][]string, 0, len(slides))
	for _, s := range slides {
		rows = append(rows, []string{
			strconv.Itoa(s.Index + 1),
			seconds(s.Start),
			seconds(s.End),
			seconds(s.Duration),
			truncate(s.Line, 60),
		})
	}
	return renderTable(
		[]string{"Slide", "Start", "End", "Duration", "Line"},
		rows,
		[]columnAlignment{alignRight, alignRight, alignRight, alignRight, alignLeft},
	)
}

func truncate(s string, max int) string {
	r := []rune(s)
	if len(r) <= max {
		return s
	}
	return string(r[:max-1]) + "…"
}
