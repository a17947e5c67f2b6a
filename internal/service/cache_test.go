package service

import (
	"testing"
	"time"

	"github.com/bigkaa/telestore/internal/domain/model"
)

func TestCacheRecords(t *testing.T) {
	c := NewCacheService(10, time.Minute, time.Minute)

	if _, ok := c.GetRecord(1); ok {
		t.Error("пустой кэш не должен возвращать запись")
	}

	record := &model.FileRecord{ID: 1, FileName: "doc.pdf"}
	c.SetRecord(record)

	got, ok := c.GetRecord(1)
	if !ok {
		t.Fatal("запись не найдена после SetRecord")
	}
	if got.FileName != "doc.pdf" {
		t.Errorf("FileName = %q", got.FileName)
	}

	c.InvalidateRecord(1)
	if _, ok := c.GetRecord(1); ok {
		t.Error("запись не инвалидирована")
	}
}

func TestCacheRecordsCopied(t *testing.T) {
	c := NewCacheService(10, time.Minute, time.Minute)

	record := &model.FileRecord{ID: 1, FileName: "doc.pdf", AccessCount: 1}
	c.SetRecord(record)

	// Мутация оригинала после SetRecord не видна кэшу
	record.AccessCount = 100
	got, ok := c.GetRecord(1)
	if !ok {
		t.Fatal("запись не найдена после SetRecord")
	}
	if got.AccessCount != 1 {
		t.Errorf("AccessCount = %d, кэш хранит общий указатель вместо копии", got.AccessCount)
	}

	// Мутация выданной копии не видна следующим читателям
	got.AccessCount = 100
	again, _ := c.GetRecord(1)
	if again.AccessCount != 1 {
		t.Errorf("AccessCount = %d, кэш выдаёт общий указатель вместо копии", again.AccessCount)
	}
}

func TestCacheFilePaths(t *testing.T) {
	c := NewCacheService(10, time.Minute, time.Minute)

	if _, ok := c.GetFilePath("tg-1"); ok {
		t.Error("пустой кэш не должен возвращать file_path")
	}

	c.SetFilePath("tg-1", "documents/file_1.bin")
	got, ok := c.GetFilePath("tg-1")
	if !ok || got != "documents/file_1.bin" {
		t.Errorf("GetFilePath = %q, %v", got, ok)
	}
}

func TestCacheTTL(t *testing.T) {
	c := NewCacheService(10, 20*time.Millisecond, 20*time.Millisecond)

	c.SetRecord(&model.FileRecord{ID: 7})
	time.Sleep(50 * time.Millisecond)

	if _, ok := c.GetRecord(7); ok {
		t.Error("запись должна была истечь по TTL")
	}
}
