package clues

import (
	"embed"
	"encoding/csv"
	"errors"
	"fmt"
	"io"
	"path"
	"sort"
	"strings"
)

var (
	ErrLocaleNotSupported = errors.New("locale not supported")
	ErrEmptyList          = errors.New("clue list is empty")
)

//go:embed words/*.csv
var words embed.FS

// Load returns the clue list of a locale. First column of every row is the clue,
// remaining columns are ignored.
func Load(locale string) ([]string, error) {
	f, err := words.Open(path.Join("words", locale+".csv"))
	if err != nil {
		return nil, fmt.Errorf("%w: %q, supported: %s",
			ErrLocaleNotSupported, locale, strings.Join(Locales(), ", "))
	}
	defer func() {
		_ = f.Close()
	}()
	return parse(f)
}

func parse(r io.Reader) ([]string, error) {
	cr := csv.NewReader(r)
	cr.FieldsPerRecord = -1
	records, err := cr.ReadAll()
	if err != nil {
		return nil, fmt.Errorf("unable to parse clue list: %w", err)
	}
	list := make([]string, 0, len(records))
	for _, rec := range records {
		clue := strings.TrimSpace(rec[0])
		if clue == "" {
			continue
		}
		list = append(list, clue)
	}
	if len(list) == 0 {
		return nil, ErrEmptyList
	}
	return list, nil
}

// Locales lists every locale with an embedded clue list.
func Locales() []string {
	entries, err := words.ReadDir("words")
	if err != nil {
		return nil
	}
	locales := make([]string, 0, len(entries))
	for _, e := range entries {
		locales = append(locales, strings.TrimSuffix(e.Name(), ".csv"))
	}
	sort.Strings(locales)
	return locales
}
