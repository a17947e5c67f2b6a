package service

import (
	"bytes"
	"context"
	"errors"
	"os"
	"path/filepath"
	"testing"
)

func TestPartName(t *testing.T) {
	cases := []struct {
		fileName string
		index    int
		want     string
	}{
		{"archive.tar.gz", 1, "archive.tar_part1.gz"},
		{"report.pdf", 3, "report_part3.pdf"},
		{"noext", 2, "noext_part2"},
	}
	for _, tc := range cases {
		if got := PartName(tc.fileName, tc.index); got != tc.want {
			t.Errorf("PartName(%q, %d) = %q, ожидалось %q", tc.fileName, tc.index, got, tc.want)
		}
	}
}

func TestSplit(t *testing.T) {
	content := make([]byte, 250)
	for i := range content {
		content[i] = byte(i)
	}
	src := filepath.Join(t.TempDir(), "data.bin")
	if err := os.WriteFile(src, content, 0o600); err != nil {
		t.Fatal(err)
	}

	tempDir := t.TempDir()
	s := NewSplitter(100, tempDir, testLogger())

	var reassembled []byte
	var names []string
	var partPaths []string
	parts, err := s.Split(context.Background(), src, "data.bin", func(_ context.Context, p Part) error {
		data, err := os.ReadFile(p.Path)
		if err != nil {
			return err
		}
		if int64(len(data)) != p.Size {
			t.Errorf("часть %d: размер файла %d, заявлено %d", p.Index, len(data), p.Size)
		}
		if p.Total != 3 {
			t.Errorf("часть %d: Total = %d, ожидалось 3", p.Index, p.Total)
		}
		reassembled = append(reassembled, data...)
		names = append(names, p.Name)
		partPaths = append(partPaths, p.Path)
		return nil
	})
	if err != nil {
		t.Fatalf("Split вернул ошибку: %v", err)
	}
	if parts != 3 {
		t.Errorf("частей = %d, ожидалось 3", parts)
	}
	if !bytes.Equal(reassembled, content) {
		t.Error("конкатенация частей не совпадает с исходным файлом")
	}
	wantNames := []string{"data_part1.bin", "data_part2.bin", "data_part3.bin"}
	for i, want := range wantNames {
		if names[i] != want {
			t.Errorf("имя части %d = %q, ожидалось %q", i+1, names[i], want)
		}
	}
	// Все временные части должны быть удалены
	for _, p := range partPaths {
		if _, err := os.Stat(p); !os.IsNotExist(err) {
			t.Errorf("временная часть %s не удалена", p)
		}
	}
}

func TestSplitAbortsOnError(t *testing.T) {
	src := filepath.Join(t.TempDir(), "data.bin")
	if err := os.WriteFile(src, make([]byte, 300), 0o600); err != nil {
		t.Fatal(err)
	}

	s := NewSplitter(100, t.TempDir(), testLogger())
	boom := errors.New("отправка не удалась")

	var calls int
	parts, err := s.Split(context.Background(), src, "data.bin", func(_ context.Context, p Part) error {
		calls++
		if p.Index == 2 {
			return boom
		}
		return nil
	})
	if !errors.Is(err, boom) {
		t.Fatalf("ожидалась ошибка обработчика, получено %v", err)
	}
	if calls != 2 {
		t.Errorf("вызовов = %d, ожидалось 2 (третья часть не обрабатывается)", calls)
	}
	if parts != 1 {
		t.Errorf("успешных частей = %d, ожидалась 1", parts)
	}
}

func TestSplitEmptyFile(t *testing.T) {
	src := filepath.Join(t.TempDir(), "empty.bin")
	if err := os.WriteFile(src, nil, 0o600); err != nil {
		t.Fatal(err)
	}

	s := NewSplitter(100, t.TempDir(), testLogger())
	if _, err := s.Split(context.Background(), src, "empty.bin", func(context.Context, Part) error {
		return nil
	}); err == nil {
		t.Error("ожидалась ошибка для пустого файла")
	}
}

func TestSplitCancelledContext(t *testing.T) {
	src := filepath.Join(t.TempDir(), "data.bin")
	if err := os.WriteFile(src, make([]byte, 300), 0o600); err != nil {
		t.Fatal(err)
	}

	ctx, cancel := context.WithCancel(context.Background())
	s := NewSplitter(100, t.TempDir(), testLogger())

	_, err := s.Split(ctx, src, "data.bin", func(_ context.Context, p Part) error {
		cancel() // отмена после первой части
		return nil
	})
	if !errors.Is(err, context.Canceled) {
		t.Errorf("ожидалась context.Canceled, получено %v", err)
	}
}
