package service

import (
	"bytes"
	"fmt"

	"github.com/xuri/excelize/v2"

	"rentdesk/internal/domain"
)

const statementSheet = "Statement"

// StatementHeader 对账单列
var StatementHeader = []string{"Payment Date", "Method", "Reference", "Status", "Amount (KES)", "Notes"}

// GenerateLeaseStatement 生成租约收款对账单（xlsx）
// 前 4 行为租约信息，表头从第 6 行开始，最后一行为已完成收款合计
func GenerateLeaseStatement(lease *domain.LeaseDetails, payments []*domain.Payment) ([]byte, error) {
	f := excelize.NewFile()
	// Note: WriteTo 之前不能 Close
	fail := func(format string, err error) ([]byte, error) {
		f.Close()
		return nil, fmt.Errorf(format, err)
	}

	index, err := f.NewSheet(statementSheet)
	if err != nil {
		return fail("failed to create sheet: %w", err)
	}
	f.DeleteSheet("Sheet1")
	f.SetActiveSheet(index)

	boldStyle, err := f.NewStyle(&excelize.Style{Font: &excelize.Font{Bold: true}})
	if err != nil {
		return fail("failed to create style: %w", err)
	}
	headerStyle, err := f.NewStyle(&excelize.Style{
		Font: &excelize.Font{Bold: true},
		Fill: excelize.Fill{Type: "pattern", Color: []string{"#E6F3FF"}, Pattern: 1},
		Border: []excelize.Border{
			{Type: "left", Color: "000000", Style: 1},
			{Type: "top", Color: "000000", Style: 1},
			{Type: "bottom", Color: "000000", Style: 1},
			{Type: "right", Color: "000000", Style: 1},
		},
		Alignment: &excelize.Alignment{Horizontal: "center", Vertical: "center"},
	})
	if err != nil {
		return fail("failed to create header style: %w", err)
	}
	amountFmt := "#,##0.00"
	amountStyle, err := f.NewStyle(&excelize.Style{CustomNumFmt: &amountFmt})
	if err != nil {
		return fail("failed to create amount style: %w", err)
	}

	// 租约信息
	info := [][2]any{
		{"Lease", lease.LeaseID},
		{"Unit", lease.UnitNumber},
		{"Period", lease.StartDate.Format("2006-01-02") + " - " + lease.EndDate.Format("2006-01-02")},
		{"Monthly Rent (KES)", lease.RentAmount},
	}
	for i, kv := range info {
		row := i + 1
		if err := setCellValue(f, statementSheet, 1, row, kv[0]); err != nil {
			return fail("failed to write lease info: %w", err)
		}
		if err := setCellValue(f, statementSheet, 2, row, kv[1]); err != nil {
			return fail("failed to write lease info: %w", err)
		}
	}
	if err := f.SetCellStyle(statementSheet, "A1", "A4", boldStyle); err != nil {
		return fail("failed to style lease info: %w", err)
	}

	const headerRow = 6
	for col, header := range StatementHeader {
		if err := setCellValue(f, statementSheet, col+1, headerRow, header); err != nil {
			return fail("failed to set header cell: %w", err)
		}
	}
	first, _ := excelize.CoordinatesToCellName(1, headerRow)
	last, _ := excelize.CoordinatesToCellName(len(StatementHeader), headerRow)
	if err := f.SetCellStyle(statementSheet, first, last, headerStyle); err != nil {
		return fail("failed to set header style: %w", err)
	}

	widths := []float64{20, 15, 20, 12, 16, 40}
	for i, w := range widths {
		col, err := excelize.ColumnNumberToName(i + 1)
		if err != nil {
			return fail("failed to convert column number: %w", err)
		}
		if err := f.SetColWidth(statementSheet, col, col, w); err != nil {
			return fail("failed to set column width: %w", err)
		}
	}

	var total float64
	row := headerRow
	for _, p := range payments {
		row++
		values := []any{
			p.PaymentDate.Format("2006-01-02 15:04"),
			string(p.PaymentMethod),
			p.ReferenceNumber.String,
			string(p.Status),
			p.Amount,
			p.Notes.String,
		}
		for col, v := range values {
			if s, ok := v.(string); ok && s == "" {
				continue
			}
			if err := setCellValue(f, statementSheet, col+1, row, v); err != nil {
				return fail("failed to set cell value: %w", err)
			}
		}
		if p.Status == domain.PaymentCompleted {
			total += p.Amount
		}
	}

	row++
	if err := setCellValue(f, statementSheet, 4, row, "Total"); err != nil {
		return fail("failed to write total: %w", err)
	}
	if err := setCellValue(f, statementSheet, 5, row, total); err != nil {
		return fail("failed to write total: %w", err)
	}
	totalLabel, _ := excelize.CoordinatesToCellName(4, row)
	totalCell, _ := excelize.CoordinatesToCellName(5, row)
	if err := f.SetCellStyle(statementSheet, totalLabel, totalLabel, boldStyle); err != nil {
		return fail("failed to style total: %w", err)
	}
	firstAmount, _ := excelize.CoordinatesToCellName(5, headerRow+1)
	if err := f.SetCellStyle(statementSheet, firstAmount, totalCell, amountStyle); err != nil {
		return fail("failed to style amounts: %w", err)
	}

	if err := f.SetPanes(statementSheet, &excelize.Panes{
		Freeze:      true,
		YSplit:      headerRow,
		TopLeftCell: fmt.Sprintf("A%d", headerRow+1),
		ActivePane:  "bottomLeft",
	}); err != nil {
		return fail("failed to freeze panes: %w", err)
	}

	var buf bytes.Buffer
	if _, err := f.WriteTo(&buf); err != nil {
		return fail("failed to write to buffer: %w", err)
	}
	if err := f.Close(); err != nil {
		return nil, fmt.Errorf("failed to close file: %w", err)
	}
	return buf.Bytes(), nil
}

func setCellValue(f *excelize.File, sheet string, col, row int, value any) error {
	cell, err := excelize.CoordinatesToCellName(col, row)
	if err != nil {
		return err
	}
	return f.SetCellValue(sheet, cell, value)
}
