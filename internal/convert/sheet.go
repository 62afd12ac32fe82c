package convert

import (
	"context"
	"encoding/csv"
	"fmt"
	"os"
	"strings"

	"github.com/xuri/excelize/v2"
)

// sheetConverter は表計算ファイルと CSV の相互変換を行います。
type sheetConverter struct{}

// xlsxToCSV は先頭シートを CSV として書き出します。
func (s *sheetConverter) xlsxToCSV(ctx context.Context, req Request) error {
	f, err := excelize.OpenFile(req.InputPath)
	if err != nil {
		return newError(CodeFailed, "XLSX ファイルを開けませんでした。", err)
	}
	defer f.Close()

	sheets := f.GetSheetList()
	if len(sheets) == 0 {
		return newError(CodeFailed, "XLSX ファイルにシートがありません。", nil)
	}
	rows, err := f.GetRows(sheets[0])
	if err != nil {
		return newError(CodeFailed, "シートの読み込みに失敗しました。", err)
	}

	var b strings.Builder
	w := csv.NewWriter(&b)
	if err := w.WriteAll(rows); err != nil {
		return newError(CodeFailed, "CSV の書き出しに失敗しました。", err)
	}
	return writeFileAtomic(req.OutputPath, []byte(b.String()))
}

// csvToXLSX は CSV を1シートのブックとして書き出します。
func (s *sheetConverter) csvToXLSX(ctx context.Context, req Request) error {
	in, err := os.Open(req.InputPath)
	if err != nil {
		return fmt.Errorf("failed to open input: %w", err)
	}
	defer in.Close()

	r := csv.NewReader(in)
	r.FieldsPerRecord = -1
	records, err := r.ReadAll()
	if err != nil {
		return newError(CodeFailed, "CSV を解析できませんでした。", err)
	}

	f := excelize.NewFile()
	defer f.Close()
	const sheet = "Sheet1"
	for i, record := range records {
		cell, err := excelize.CoordinatesToCellName(1, i+1)
		if err != nil {
			return err
		}
		row := make([]interface{}, len(record))
		for j, v := range record {
			row[j] = v
		}
		if err := f.SetSheetRow(sheet, cell, &row); err != nil {
			return newError(CodeFailed, "シートへの書き込みに失敗しました。", err)
		}
	}

	tmp := req.OutputPath + ".part.xlsx"
	if err := f.SaveAs(tmp); err != nil {
		_ = os.Remove(tmp)
		return newError(CodeFailed, "XLSX の保存に失敗しました。", err)
	}
	if err := os.Rename(tmp, req.OutputPath); err != nil {
		_ = os.Remove(tmp)
		return fmt.Errorf("failed to finalize output: %w", err)
	}
	return nil
}

// workbookText は全シートをタブ区切りのテキストにまとめます。
func workbookText(path string) (string, error) {
	f, err := excelize.OpenFile(path)
	if err != nil {
		return "", newError(CodeFailed, "XLSX ファイルを開けませんでした。", err)
	}
	defer f.Close()

	var b strings.Builder
	for _, sheet := range f.GetSheetList() {
		rows, err := f.GetRows(sheet)
		if err != nil {
			return "", newError(CodeFailed, "シートの読み込みに失敗しました。", err)
		}
		fmt.Fprintf(&b, "[%s]\n", sheet)
		for _, row := range rows {
			b.WriteString(strings.Join(row, "\t"))
			b.WriteByte('\n')
		}
		b.WriteByte('\n')
	}
	return b.String(), nil
}
