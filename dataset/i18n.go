package dataset

import (
	"sort"
	"strings"

	"argus/core"
)

// I18nEntry is one translation. For Remove, an empty Language drops the
// whole key.
type I18nEntry struct {
	Key      string
	Language core.Language
	Text     string
}

// I18n holds translated texts used when rendering alerts
type I18n struct {
	texts map[string]map[core.Language]string
}

// NewI18n builds a translation table from entries
func NewI18n(entries ...I18nEntry) *I18n {
	d := &I18n{texts: make(map[string]map[core.Language]string)}
	for _, e := range entries {
		d.Insert(e.Key, e.Language, e.Text)
	}
	return d
}

// Insert stores text for key in lang. Language codes are upper-cased.
func (d *I18n) Insert(key string, lang core.Language, text string) {
	if d.texts == nil {
		d.texts = make(map[string]map[core.Language]string)
	}
	byLang, ok := d.texts[key]
	if !ok {
		byLang = make(map[core.Language]string)
		d.texts[key] = byLang
	}
	byLang[normalizeLanguage(lang)] = text
}

// Get returns the text for key in exactly lang
func (d *I18n) Get(key string, lang core.Language) (string, bool) {
	if d == nil {
		return "", false
	}
	text, ok := d.texts[key][normalizeLanguage(lang)]
	return text, ok
}

// GetOrDefault returns the text for key in lang, falling back to English and
// then to the first language in lexical order. Unknown keys yield "".
func (d *I18n) GetOrDefault(key string, lang core.Language) string {
	if d == nil {
		return ""
	}
	byLang, ok := d.texts[key]
	if !ok || len(byLang) == 0 {
		return ""
	}
	if text, ok := byLang[normalizeLanguage(lang)]; ok {
		return text
	}
	if text, ok := byLang[core.LanguageEnglish]; ok {
		return text
	}
	langs := make([]string, 0, len(byLang))
	for l := range byLang {
		langs = append(langs, string(l))
	}
	sort.Strings(langs)
	return byLang[core.Language(langs[0])]
}

// MatchValue implements Matcher; a value matches when it is a known key
func (d *I18n) MatchValue(v interface{}) bool {
	if d == nil {
		return false
	}
	_, ok := d.texts[core.TextOf(v)]
	return ok
}

// Len returns the number of keys
func (d *I18n) Len() int {
	if d == nil {
		return 0
	}
	return len(d.texts)
}

// Entries returns every translation ordered by key and language
func (d *I18n) Entries() []I18nEntry {
	var out []I18nEntry
	if d == nil {
		return out
	}
	for key, byLang := range d.texts {
		for lang, text := range byLang {
			out = append(out, I18nEntry{Key: key, Language: lang, Text: text})
		}
	}
	sort.Slice(out, func(i, j int) bool {
		if out[i].Key != out[j].Key {
			return out[i].Key < out[j].Key
		}
		return out[i].Language < out[j].Language
	})
	return out
}

// ApplyI18n folds commands into a new I18n
func ApplyI18n(old *I18n, batch []Command[I18n, I18nEntry]) *I18n {
	next := NewI18n(old.Entries()...)
	for _, cmd := range batch {
		switch cmd.Op {
		case OpReplace:
			next = NewI18n(cmd.Snapshot.Entries()...)
		case OpAdd:
			next.Insert(cmd.Entry.Key, cmd.Entry.Language, cmd.Entry.Text)
		case OpRemove:
			if cmd.Entry.Language == "" {
				delete(next.texts, cmd.Entry.Key)
				continue
			}
			if byLang, ok := next.texts[cmd.Entry.Key]; ok {
				delete(byLang, normalizeLanguage(cmd.Entry.Language))
				if len(byLang) == 0 {
					delete(next.texts, cmd.Entry.Key)
				}
			}
		}
	}
	return next
}

// NewI18nHandle creates the handle serving translations
func NewI18nHandle(opts HandleOptions) *Handle[I18n, I18nEntry] {
	return NewHandle[I18n, I18nEntry](core.KindI18n, NewI18n(), ApplyI18n, opts)
}

func normalizeLanguage(lang core.Language) core.Language {
	return core.Language(strings.ToUpper(strings.TrimSpace(string(lang))))
}
