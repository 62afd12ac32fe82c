package convert

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"strings"
)

// officeConverter は LibreOffice (soffice) で DOCX を PDF に変換します。
type officeConverter struct {
	opts Options
}

func (c *officeConverter) Convert(ctx context.Context, req Request) error {
	if c.opts.LibreOfficePath == "" {
		return newError(CodeUnsupported, "DOCX から PDF への変換はこのサーバー環境ではサポートされていません（LibreOffice が必要です）。", nil)
	}

	outDir, err := os.MkdirTemp("", "anyconvert-office-*")
	if err != nil {
		return err
	}
	defer os.RemoveAll(outDir)

	args := []string{"--headless", "--convert-to", "pdf", "--outdir", outDir, req.InputPath}
	if _, errb, err := c.opts.Runner.Run(ctx, c.opts.LibreOfficePath, args...); err != nil {
		return newError(CodeFailed, fmt.Sprintf("DOCX から PDF への変換に失敗しました: %s", truncate(string(errb), 512)), err)
	}

	// soffice は入力のベース名 + .pdf で出力する
	base := strings.TrimSuffix(filepath.Base(req.InputPath), filepath.Ext(req.InputPath))
	produced := filepath.Join(outDir, base+".pdf")
	data, err := os.ReadFile(produced)
	if err != nil {
		return newError(CodeFailed, "変換後の PDF が見つかりませんでした。", err)
	}
	return writeFileAtomic(req.OutputPath, data)
}
