package service

import (
	"errors"
	"testing"
	"time"
)

func TestLinkSignVerify(t *testing.T) {
	ls := NewLinkSigner("secret-key")
	expires := time.Now().Add(time.Hour)

	sig := ls.Sign(42, expires)
	if err := ls.Verify(42, expires.Unix(), sig); err != nil {
		t.Fatalf("валидная подпись отклонена: %v", err)
	}
}

func TestLinkVerifyTampered(t *testing.T) {
	ls := NewLinkSigner("secret-key")
	expires := time.Now().Add(time.Hour)
	sig := ls.Sign(42, expires)

	// Подпись не переносится на другой файл
	if err := ls.Verify(43, expires.Unix(), sig); !errors.Is(err, ErrBadSignature) {
		t.Errorf("подпись другого файла: ожидалась ErrBadSignature, получено %v", err)
	}
	// Продление срока ломает подпись
	if err := ls.Verify(42, expires.Add(time.Hour).Unix(), sig); !errors.Is(err, ErrBadSignature) {
		t.Errorf("изменённый срок: ожидалась ErrBadSignature, получено %v", err)
	}
	// Мусор вместо подписи
	if err := ls.Verify(42, expires.Unix(), "не-hex"); !errors.Is(err, ErrBadSignature) {
		t.Errorf("мусорная подпись: ожидалась ErrBadSignature, получено %v", err)
	}
	// Другой секрет
	other := NewLinkSigner("other-key")
	if err := other.Verify(42, expires.Unix(), sig); !errors.Is(err, ErrBadSignature) {
		t.Errorf("чужой секрет: ожидалась ErrBadSignature, получено %v", err)
	}
}

func TestLinkVerifyExpired(t *testing.T) {
	ls := NewLinkSigner("secret-key")
	expires := time.Now().Add(-time.Minute)

	sig := ls.Sign(42, expires)
	if err := ls.Verify(42, expires.Unix(), sig); !errors.Is(err, ErrLinkExpired) {
		t.Errorf("ожидалась ErrLinkExpired, получено %v", err)
	}
}
