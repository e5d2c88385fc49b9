package fonts

import (
	"fmt"
	"sort"
	"strings"
)

// Direction is the writing direction a font family is used for.
type Direction string

const (
	LeftToRight Direction = "ltr"
	RightToLeft Direction = "rtl"
)

// ParseDirection accepts "ltr"/"rtl" and their long forms. Empty means
// left-to-right.
func ParseDirection(s string) (Direction, error) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "", "ltr", "left-to-right":
		return LeftToRight, nil
	case "rtl", "right-to-left":
		return RightToLeft, nil
	default:
		return LeftToRight, fmt.Errorf("fonts: unknown direction %q", s)
	}
}

// BundledFamily is compiled into the binary and never fetched.
const BundledFamily = "Go"

// Family is one entry of the font catalog.
type Family struct {
	Name      string    `json:"name"`
	Direction Direction `json:"direction"`
	URL       string    `json:"url,omitempty"`
	Bundled   bool      `json:"bundled,omitempty"`
}

var catalog = []Family{
	{Name: "Amiri", Direction: RightToLeft, URL: "https://github.com/google/fonts/raw/main/ofl/amiri/Amiri-Regular.ttf"},
	{Name: "Cairo", Direction: RightToLeft, URL: "https://github.com/google/fonts/raw/main/ofl/cairo/Cairo%5Bwght%5D.ttf"},
	{Name: "Tajawal", Direction: RightToLeft, URL: "https://github.com/google/fonts/raw/main/ofl/tajawal/Tajawal-Regular.ttf"},
	{Name: "Almarai", Direction: RightToLeft, URL: "https://github.com/google/fonts/raw/main/ofl/almarai/Almarai-Regular.ttf"},
	{Name: "Roboto", Direction: LeftToRight, URL: "https://github.com/google/fonts/raw/main/apache/roboto/static/Roboto-Regular.ttf"},
	{Name: "OpenSans", Direction: LeftToRight, URL: "https://github.com/google/fonts/raw/main/apache/opensans/OpenSans%5Bwdth%2Cwght%5D.ttf"},
	{Name: "Montserrat", Direction: LeftToRight, URL: "https://github.com/google/fonts/raw/main/ofl/montserrat/Montserrat%5Bwght%5D.ttf"},
	{Name: BundledFamily, Direction: LeftToRight, Bundled: true},
}

// Catalog returns the known families sorted by name.
func Catalog() []Family {
	out := make([]Family, len(catalog))
	copy(out, catalog)
	sort.Slice(out, func(i, j int) bool { return out[i].Name < out[j].Name })
	return out
}

// Lookup finds a family by name, ignoring case.
func Lookup(name string) (Family, bool) {
	name = strings.TrimSpace(name)
	for _, fam := range catalog {
		if strings.EqualFold(fam.Name, name) {
			return fam, true
		}
	}
	return Family{}, false
}
