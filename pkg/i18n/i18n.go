//Package i18n localizes the messages users see
package i18n

import (
	"embed"
	"encoding/json"
	"fmt"
	"io/fs"
	"net/http"
	"path"

	"github.com/nicksnyder/go-i18n/v2/i18n"
	"golang.org/x/text/language"
	"golang.org/x/text/language/display"
)

//Message ids
const (
	MsgDetectionFailed  = "DetectionFailed"
	MsgNoBody           = "NoBody"
	MsgInitFailed       = "InitFailed"
	MsgInitTimeout      = "InitTimeout"
	MsgUnsupported      = "Unsupported"
	MsgMissingParameter = "MissingParameter"
	MsgNotFound         = "NotFound"
	MsgAlreadyExists    = "AlreadyExists"
	MsgInternal         = "Internal"
)

//go:embed locales/*.json
var locales embed.FS

//Language is one supported language
type Language struct {
	Tag  string `json:"tag"`
	Name string `json:"name"` //name of the language in itself
}

//Translator holds the message catalogue
type Translator struct {
	bundle *i18n.Bundle
}

//New loads the embedded catalogue
func New() (*Translator, error) {
	bundle := i18n.NewBundle(language.English)
	bundle.RegisterUnmarshalFunc("json", json.Unmarshal)

	files, err := fs.Glob(locales, "locales/*.json")
	if err != nil {
		return nil, err
	}
	for _, f := range files {
		if _, err := bundle.LoadMessageFileFS(locales, f); err != nil {
			return nil, fmt.Errorf("i18n: could not load '%s': %w", path.Base(f), err)
		}
	}

	return &Translator{bundle: bundle}, nil
}

//Localize renders message id in the first of langs the catalogue supports, English otherwise.
//langs may hold tags or Accept-Language values. An unknown id is returned as is.
func (t *Translator) Localize(langs []string, id string, data map[string]interface{}) string {
	msg, err := i18n.NewLocalizer(t.bundle, langs...).Localize(&i18n.LocalizeConfig{
		MessageID:    id,
		TemplateData: data,
	})
	if err != nil {
		return id
	}

	return msg
}

//Languages lists the supported languages
func (t *Translator) Languages() []Language {
	tags := t.bundle.LanguageTags()
	langs := make([]Language, 0, len(tags))
	for _, tag := range tags {
		langs = append(langs, Language{Tag: tag.String(), Name: display.Self.Name(tag)})
	}

	return langs
}

//RequestLanguages returns the languages a request asks for: the lng query parameter first, then Accept-Language
func RequestLanguages(r *http.Request) []string {
	langs := make([]string, 0, 2)
	if lng := r.URL.Query().Get("lng"); lng != "" {
		langs = append(langs, lng)
	}
	if accept := r.Header.Get("Accept-Language"); accept != "" {
		langs = append(langs, accept)
	}

	return langs
}
