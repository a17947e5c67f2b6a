// splitter.go — разбиение больших файлов на части перед отправкой
// в Telegram. Части материализуются на диске по одной и удаляются
// сразу после обработки: на диске никогда не лежит больше одной части.
package service

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
)

// Part — одна часть разбиваемого файла.
type Part struct {
	// Index — номер части, начиная с 1
	Index int
	// Total — общее количество частей
	Total int
	// Name — имя части вида base_partN.ext
	Name string
	// Path — путь к временному файлу части
	Path string
	// Size — размер части в байтах
	Size int64
}

// PartFunc обрабатывает одну часть. Возврат ошибки прерывает разбиение,
// уже обработанные части не откатываются.
type PartFunc func(ctx context.Context, p Part) error

// Splitter разбивает файлы на части не больше partSize.
type Splitter struct {
	partSize int64
	tempDir  string
	logger   *slog.Logger
}

// NewSplitter создаёт splitter.
func NewSplitter(partSize int64, tempDir string, logger *slog.Logger) *Splitter {
	return &Splitter{
		partSize: partSize,
		tempDir:  tempDir,
		logger:   logger.With(slog.String("component", "splitter")),
	}
}

// PartName строит имя части: base_partN.ext. Расширение исходного
// имени сохраняется, номер вставляется перед ним.
func PartName(fileName string, index int) string {
	ext := filepath.Ext(fileName)
	base := strings.TrimSuffix(fileName, ext)
	return fmt.Sprintf("%s_part%d%s", base, index, ext)
}

// Split разбивает файл path на части и передаёт каждую в fn.
// fileName — исходное имя файла для построения имён частей.
// Временный файл части удаляется после возврата fn независимо от
// результата. Возвращает количество успешно обработанных частей.
func (s *Splitter) Split(ctx context.Context, path, fileName string, fn PartFunc) (int, error) {
	src, err := os.Open(path)
	if err != nil {
		return 0, fmt.Errorf("ошибка открытия файла %s: %w", path, err)
	}
	defer src.Close()

	st, err := src.Stat()
	if err != nil {
		return 0, fmt.Errorf("ошибка stat файла %s: %w", path, err)
	}
	size := st.Size()
	if size == 0 {
		return 0, fmt.Errorf("файл %s пуст", path)
	}

	total := int((size + s.partSize - 1) / s.partSize)

	s.logger.Debug("Начато разбиение файла",
		slog.String("file_name", fileName),
		slog.Int64("size", size),
		slog.Int("parts", total),
	)

	for index := 1; index <= total; index++ {
		if err := ctx.Err(); err != nil {
			return index - 1, fmt.Errorf("разбиение прервано: %w", err)
		}

		part, err := s.writePart(src, fileName, index, total)
		if err != nil {
			return index - 1, err
		}

		fnErr := fn(ctx, part)
		if rmErr := os.Remove(part.Path); rmErr != nil {
			s.logger.Warn("Не удалось удалить временную часть",
				slog.String("path", part.Path),
				slog.String("error", rmErr.Error()),
			)
		}
		if fnErr != nil {
			return index - 1, fmt.Errorf("ошибка обработки части %d/%d: %w", index, total, fnErr)
		}
	}

	return total, nil
}

// writePart копирует очередные partSize байт из src во временный файл.
func (s *Splitter) writePart(src io.Reader, fileName string, index, total int) (Part, error) {
	name := PartName(fileName, index)
	path := filepath.Join(s.tempDir, name)

	dst, err := os.OpenFile(path, os.O_WRONLY|os.O_CREATE|os.O_TRUNC, 0o600)
	if err != nil {
		return Part{}, fmt.Errorf("ошибка создания части %s: %w", path, err)
	}

	written, err := io.CopyN(dst, src, s.partSize)
	closeErr := dst.Close()
	if err != nil && err != io.EOF {
		os.Remove(path)
		return Part{}, fmt.Errorf("ошибка записи части %s: %w", path, err)
	}
	if closeErr != nil {
		os.Remove(path)
		return Part{}, fmt.Errorf("ошибка закрытия части %s: %w", path, closeErr)
	}

	return Part{
		Index: index,
		Total: total,
		Name:  name,
		Path:  path,
		Size:  written,
	}, nil
}
