package convert

import (
	"context"
	"fmt"
	"os"
	"slices"
	"strings"
)

const (
	textHeader      = "AnyConvert OCR Extracted Text\n==============================\n\n"
	docxTitle       = "AnyConvert OCR Result"
	noTextDetected  = "No text detected."
	noTextExtracted = "No text could be extracted or Tesseract is not installed."
	docxSeparator   = "--------------------"
)

// plainTextExts はそのまま本文として読み込む拡張子です。
var plainTextExts = []string{".txt", ".csv", ".md"}

// ocrDocument は画像の OCR 結果などをテキスト/DOCX にまとめます。
// OCR の失敗はジョブの失敗にせず、エラー内容を本文に書き込みます。
type ocrDocument struct {
	opts Options
}

func (o *ocrDocument) toText(ctx context.Context, req Request) error {
	var text string
	switch {
	case slices.Contains(ocrExts, req.SourceExt):
		extracted, err := o.tesseract(ctx, req.InputPath)
		if err != nil {
			extracted = "Error: Real OCR requires Tesseract-OCR installed on your system.\n" +
				"To fix this: Install Tesseract-OCR and add it to your System PATH.\n\n" +
				"Technical Detail: " + err.Error()
		}
		text = extracted
	case req.SourceExt == ".xlsx":
		extracted, err := workbookText(req.InputPath)
		if err != nil {
			return err
		}
		text = extracted
	case slices.Contains(plainTextExts, req.SourceExt):
		data, err := os.ReadFile(req.InputPath)
		if err != nil {
			return fmt.Errorf("failed to read input: %w", err)
		}
		text = string(data)
	}

	return writeFileAtomic(req.OutputPath, []byte(textHeader+nonEmpty(text, noTextDetected)))
}

func (o *ocrDocument) toDocx(ctx context.Context, req Request) error {
	var text string
	switch {
	case slices.Contains(ocrExts, req.SourceExt):
		extracted, err := o.tesseract(ctx, req.InputPath)
		if err != nil {
			extracted = "Error: Real OCR requires Tesseract-OCR installed on your system. \nDetail: " + err.Error()
		}
		text = extracted
	case slices.Contains(plainTextExts, req.SourceExt):
		data, err := os.ReadFile(req.InputPath)
		if err != nil {
			return fmt.Errorf("failed to read input: %w", err)
		}
		text = string(data)
	}

	paragraphs := []docxParagraph{
		{Text: docxTitle, Style: "Title"},
		{Text: nonEmpty(text, noTextExtracted)},
		{Text: docxSeparator},
		{Text: "Processed by AnyConvert - " + o.opts.Now().Format("2006-01-02 15:04:05")},
	}
	return writeDocxFile(req.OutputPath, paragraphs)
}

// tesseract は tesseract <file> stdout -l <lang> を実行して認識結果を返します。
func (o *ocrDocument) tesseract(ctx context.Context, path string) (string, error) {
	out, errb, err := o.opts.Runner.Run(ctx, o.opts.TesseractPath, path, "stdout", "-l", o.opts.TesseractLang)
	if err != nil {
		if msg := strings.TrimSpace(string(errb)); msg != "" {
			return "", fmt.Errorf("tesseract: %w (%s)", err, truncate(msg, 512))
		}
		return "", fmt.Errorf("tesseract: %w", err)
	}
	return string(out), nil
}

func nonEmpty(s, fallback string) string {
	if strings.TrimSpace(s) == "" {
		return fallback
	}
	return s
}
