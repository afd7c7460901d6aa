// Package langid identifies the language of extracted text with lingua-go and
// reports fastText style labels such as "vie_Latn".
package langid

import (
	"fmt"
	"strings"
	"unicode"

	"github.com/pemistahl/lingua-go"

	"github.com/JakeFAU/warc-langfilter/internal/corpus"
)

// LabelUndetermined is reported when no language scores above zero.
const LabelUndetermined = "und"

// Config selects the detector's language set and accuracy trade-offs.
type Config struct {
	// Languages lists ISO 639-1 or 639-3 codes. Empty means every language lingua knows.
	Languages           []string
	MinRelativeDistance float64
	LowAccuracy         bool
	Preload             bool
	// TopK caps the number of predictions returned. Zero returns all.
	TopK int
}

// Classifier implements corpus.LanguageClassifier. It is safe for concurrent use.
type Classifier struct {
	detector lingua.LanguageDetector
	topK     int
}

// New builds the detector. Model loading is expensive, so build one Classifier per process.
func New(cfg Config) (*Classifier, error) {
	var builder lingua.LanguageDetectorBuilder
	if len(cfg.Languages) == 0 {
		builder = lingua.NewLanguageDetectorBuilder().FromAllLanguages()
	} else {
		langs, err := ParseLanguages(cfg.Languages)
		if err != nil {
			return nil, err
		}
		if len(langs) < 2 {
			return nil, fmt.Errorf("classifier needs at least two languages, got %d", len(langs))
		}
		builder = lingua.NewLanguageDetectorBuilder().FromLanguages(langs...)
	}
	if cfg.MinRelativeDistance > 0 {
		builder = builder.WithMinimumRelativeDistance(cfg.MinRelativeDistance)
	}
	if cfg.Preload {
		builder = builder.WithPreloadedLanguageModels()
	}
	if cfg.LowAccuracy {
		builder = builder.WithLowAccuracyMode()
	}
	return &Classifier{detector: builder.Build(), topK: cfg.TopK}, nil
}

// ParseLanguages resolves ISO 639-1 or 639-3 codes, case-insensitively.
func ParseLanguages(codes []string) ([]lingua.Language, error) {
	index := make(map[string]lingua.Language)
	for _, lang := range lingua.AllLanguages() {
		index[strings.ToLower(lang.IsoCode639_1().String())] = lang
		index[strings.ToLower(lang.IsoCode639_3().String())] = lang
	}
	seen := make(map[lingua.Language]bool)
	var out []lingua.Language
	for _, code := range codes {
		key := strings.ToLower(strings.TrimSpace(code))
		if key == "" {
			continue
		}
		lang, ok := index[key]
		if !ok {
			return nil, fmt.Errorf("unknown language code %q", code)
		}
		if !seen[lang] {
			seen[lang] = true
			out = append(out, lang)
		}
	}
	return out, nil
}

// Predict returns labels ranked by descending confidence.
func (c *Classifier) Predict(text string) ([]corpus.Prediction, error) {
	if strings.TrimSpace(text) == "" {
		return []corpus.Prediction{{Label: LabelUndetermined}}, nil
	}
	values := c.detector.ComputeLanguageConfidenceValues(text)
	if len(values) == 0 || values[0].Value() <= 0 {
		return []corpus.Prediction{{Label: LabelUndetermined}}, nil
	}

	script := DominantScript(text)
	n := len(values)
	if c.topK > 0 && c.topK < n {
		n = c.topK
	}
	preds := make([]corpus.Prediction, 0, n)
	for _, v := range values[:n] {
		preds = append(preds, corpus.Prediction{
			Label: Label(v.Language(), script),
			Score: v.Value(),
		})
	}
	return preds, nil
}

// Label formats a language and ISO 15924 script code as "<iso639-3>_<Script>".
func Label(lang lingua.Language, script string) string {
	code := strings.ToLower(lang.IsoCode639_3().String())
	if script == "" {
		script = "Zyyy"
	}
	return code + "_" + script
}

type scriptTable struct {
	code  string
	table *unicode.RangeTable
}

var scripts = []scriptTable{
	{"Latn", unicode.Latin},
	{"Cyrl", unicode.Cyrillic},
	{"Arab", unicode.Arabic},
	{"Hani", unicode.Han},
	{"Hang", unicode.Hangul},
	{"Jpan", unicode.Hiragana},
	{"Jpan", unicode.Katakana},
	{"Grek", unicode.Greek},
	{"Hebr", unicode.Hebrew},
	{"Deva", unicode.Devanagari},
	{"Beng", unicode.Bengali},
	{"Gujr", unicode.Gujarati},
	{"Guru", unicode.Gurmukhi},
	{"Taml", unicode.Tamil},
	{"Telu", unicode.Telugu},
	{"Thai", unicode.Thai},
	{"Armn", unicode.Armenian},
	{"Geor", unicode.Georgian},
	{"Ethi", unicode.Ethiopic},
}

// DominantScript returns the ISO 15924 code of the script used by most letters
// in text, or "" when text has no letters in a known script. Kana anywhere
// marks the text as Japanese.
func DominantScript(text string) string {
	counts := make(map[string]int)
	for _, r := range text {
		if !unicode.IsLetter(r) {
			continue
		}
		for _, s := range scripts {
			if unicode.Is(s.table, r) {
				counts[s.code]++
				break
			}
		}
	}
	if counts["Jpan"] > 0 {
		counts["Jpan"] += counts["Hani"]
		delete(counts, "Hani")
	}
	best, bestCount := "", 0
	for _, s := range scripts {
		if n := counts[s.code]; n > bestCount {
			best, bestCount = s.code, n
		}
	}
	return best
}
