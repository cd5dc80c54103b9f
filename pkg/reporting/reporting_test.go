package reporting_test

import (
	"bytes"
	"strings"
	"testing"

	"github.com/peycheff/crewledger/pkg/reporting"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestWriteCSV_EmitsBOMAndCRLF(t *testing.T) {
	var buf bytes.Buffer
	err := reporting.WriteCSV(&buf, []string{"a", "b"}, [][]string{{"1", "2"}})
	require.NoError(t, err)

	out := buf.String()
	assert.True(t, strings.HasPrefix(out, "﻿"), "output must start with a UTF-8 BOM")
	assert.Contains(t, out, "a,b\r\n")
	assert.Contains(t, out, "1,2\r\n")
}

func TestWriteCSV_QuotesFieldsContainingComma(t *testing.T) {
	var buf bytes.Buffer
	err := reporting.WriteCSV(&buf, []string{"desc"}, [][]string{{"tiles, grouted"}})
	require.NoError(t, err)
	assert.Contains(t, buf.String(), `"tiles, grouted"`)
}

func TestExport_RejectsOverLimitWithoutWritingAnything(t *testing.T) {
	rows := make([]reporting.MonthlyRow, reporting.MaxExportRows+1)
	for i := range rows {
		rows[i] = reporting.MonthlyRow{Date: "2026-07-01", Kind: "task", Amount: "1.00", Currency: "ILS"}
	}
	src := reporting.MonthlySource{Items: rows}

	var buf bytes.Buffer
	err := reporting.Export(&buf, src)

	var limitErr *reporting.ExportLimitError
	require.ErrorAs(t, err, &limitErr)
	assert.Equal(t, reporting.MaxExportRows+1, limitErr.Total)
	assert.Equal(t, reporting.MaxExportRows, limitErr.Limit)
	assert.Empty(t, buf.Bytes(), "no file is emitted on a rejected export")
}

func TestExport_WritesFullBodyUnderLimit(t *testing.T) {
	src := reporting.MonthlySource{Items: []reporting.MonthlyRow{
		{Date: "2026-07-01", Kind: "task", Worker: "Dana", Description: "hour_electric", Amount: "1600.00", Currency: "ILS", Status: "approved"},
	}}
	var buf bytes.Buffer
	require.NoError(t, reporting.Export(&buf, src))
	assert.Contains(t, buf.String(), "1600.00")
}
