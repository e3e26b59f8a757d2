package category

import "strings"

// Category is one entry of the fixed catalog offered by the UI picker.
type Category struct {
	ID    string `json:"id" yaml:"id"`
	Name  string `json:"name" yaml:"name"`
	Icon  string `json:"icon" yaml:"icon"`
	Color string `json:"color" yaml:"color"`
}

// Catalog is an ordered list of categories. Order matters: Match returns the
// first entry whose name or icon appears in the text, so more specific
// entries belong earlier.
type Catalog []Category

// Default returns the built-in catalog used when the config file does not
// override it.
func Default() Catalog {
	return Catalog{
		{ID: "work", Name: "仕事", Icon: "💼", Color: "#4a6fa5"},
		{ID: "shopping", Name: "買い物", Icon: "🛒", Color: "#e8a33d"},
		{ID: "study", Name: "勉強", Icon: "📚", Color: "#7b5ea7"},
		{ID: "exercise", Name: "運動", Icon: "🏃", Color: "#3f9e58"},
		{ID: "hospital", Name: "病院", Icon: "🏥", Color: "#d9534f"},
		{ID: "housework", Name: "家事", Icon: "🏠", Color: "#8a6d3b"},
		{ID: "hobby", Name: "趣味", Icon: "🎨", Color: "#5bc0de"},
	}
}

// Match scans the text against each catalog entry in order, checking the
// name token before the icon token. It returns the matched category and the
// token that hit, so callers can strip the token when deriving a title.
func (c Catalog) Match(text string) (Category, string, bool) {
	if text == "" {
		return Category{}, "", false
	}
	for _, cat := range c {
		if cat.Name != "" && strings.Contains(text, cat.Name) {
			return cat, cat.Name, true
		}
		if cat.Icon != "" && strings.Contains(text, cat.Icon) {
			return cat, cat.Icon, true
		}
	}
	return Category{}, "", false
}

// ByID returns the catalog entry with the given identifier.
func (c Catalog) ByID(id string) (Category, bool) {
	for _, cat := range c {
		if cat.ID == id {
			return cat, true
		}
	}
	return Category{}, false
}
