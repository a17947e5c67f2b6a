package repository

import (
	"strings"
	"testing"
)

// --- Тесты buildListWhere ---

// TestBuildListWhere_Empty проверяет пустые фильтры.
func TestBuildListWhere_Empty(t *testing.T) {
	where, args := buildListWhere(ListParams{})

	if where != "" {
		t.Errorf("where = %q, ожидалась пустая строка", where)
	}
	if len(args) != 0 {
		t.Errorf("args count = %d, ожидался 0", len(args))
	}
}

// TestBuildListWhere_Category проверяет фильтрацию по категории.
func TestBuildListWhere_Category(t *testing.T) {
	category := "docs"
	where, args := buildListWhere(ListParams{Category: &category})

	if !strings.Contains(where, "category = $1") {
		t.Errorf("where = %q, ожидалось содержание 'category = $1'", where)
	}
	if len(args) != 1 {
		t.Errorf("args count = %d, ожидался 1", len(args))
	}
	if args[0] != "docs" {
		t.Errorf("args[0] = %v, ожидался 'docs'", args[0])
	}
}

// TestBuildListWhere_Tag проверяет поиск по подстроке в тегах.
func TestBuildListWhere_Tag(t *testing.T) {
	tag := "backup"
	where, args := buildListWhere(ListParams{Tag: &tag})

	if !strings.Contains(where, "tags ILIKE $1") {
		t.Errorf("where = %q, ожидался tags ILIKE $1", where)
	}
	// Подстрока должна быть обёрнута в %...%
	if args[0] != "%backup%" {
		t.Errorf("args[0] = %v, ожидался '%%backup%%'", args[0])
	}
}

// TestBuildListWhere_ActiveOnly проверяет фильтр активных записей.
func TestBuildListWhere_ActiveOnly(t *testing.T) {
	where, args := buildListWhere(ListParams{ActiveOnly: true})

	if !strings.Contains(where, "is_active") {
		t.Errorf("where = %q, ожидался is_active", where)
	}
	// is_active не требует аргумента
	if len(args) != 0 {
		t.Errorf("args count = %d, ожидался 0", len(args))
	}
}

// TestBuildListWhere_EmptyStrings проверяет, что пустые значения
// фильтров не попадают в запрос.
func TestBuildListWhere_EmptyStrings(t *testing.T) {
	category := ""
	tag := ""
	where, args := buildListWhere(ListParams{Category: &category, Tag: &tag})

	if where != "" {
		t.Errorf("where = %q, ожидалась пустая строка", where)
	}
	if len(args) != 0 {
		t.Errorf("args count = %d, ожидался 0", len(args))
	}
}

// TestBuildListWhere_AllFilters проверяет комбинацию фильтров.
func TestBuildListWhere_AllFilters(t *testing.T) {
	category := "docs"
	tag := "backup"
	where, args := buildListWhere(ListParams{
		Category:   &category,
		Tag:        &tag,
		ActiveOnly: true,
	})

	// Три условия, объединённых AND
	if strings.Count(where, "AND") != 2 {
		t.Errorf("where = %q, ожидалось 2 AND", where)
	}
	if !strings.HasPrefix(where, "WHERE ") {
		t.Errorf("where = %q, ожидался префикс WHERE", where)
	}
	if len(args) != 2 {
		t.Errorf("args count = %d, ожидался 2", len(args))
	}
}
