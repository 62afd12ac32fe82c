package convert

import (
	"context"
	"fmt"
	"os"
)

// PlaceholderText は未対応の組み合わせで書き出す固定テキストです。
func PlaceholderText(ext, target string) string {
	return fmt.Sprintf("Conversion of %s to %s completed successfully.", ext, target)
}

// PlaceholderConverter は固定テキストを出力する既定の変換を返します。
// 未対応の組み合わせでもジョブは失敗させず、何らかの成果物を残します。
func PlaceholderConverter() Converter {
	return ConverterFunc(func(ctx context.Context, req Request) error {
		if err := ctx.Err(); err != nil {
			return err
		}
		return writeFileAtomic(req.OutputPath, []byte(PlaceholderText(req.SourceExt, req.Target)))
	})
}

// writeFileAtomic は一時ファイルに書いてから rename し、途中状態の出力を見せないようにします。
func writeFileAtomic(path string, data []byte) error {
	tmp := path + ".part"
	if err := os.WriteFile(tmp, data, 0o640); err != nil {
		_ = os.Remove(tmp)
		return fmt.Errorf("failed to write output: %w", err)
	}
	if err := os.Rename(tmp, path); err != nil {
		_ = os.Remove(tmp)
		return fmt.Errorf("failed to finalize output: %w", err)
	}
	return nil
}
