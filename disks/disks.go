// Package disks holds predefined image geometries for the `init` command,
// so users can create a sensibly sized image without picking raw block
// counts by hand.
package disks

import (
	_ "embed"
	"fmt"
	"sort"
	"strings"

	"github.com/gocarina/gocsv"
)

// Profile is one predefined image geometry.
type Profile struct {
	Name       string `csv:"name"`
	Slug       string `csv:"slug"`
	BlockCount uint32 `csv:"block_count"`
	BlockSize  uint32 `csv:"block_size"`
	Notes      string `csv:"notes"`
}

// TotalSizeBytes gives the size of the image file this profile produces.
func (p *Profile) TotalSizeBytes() int64 {
	return int64(p.BlockCount) * int64(p.BlockSize)
}

//go:embed profiles.csv
var profilesRawCSV string
var profiles map[string]Profile

func init() {
	var rows []Profile
	err := gocsv.Unmarshal(strings.NewReader(profilesRawCSV), &rows)
	if err != nil {
		panic(fmt.Sprintf("embedded profile table is invalid: %s", err))
	}

	profiles = make(map[string]Profile, len(rows))
	for _, row := range rows {
		profiles[row.Slug] = row
	}
}

// GetProfile looks up a predefined geometry by slug.
func GetProfile(slug string) (Profile, error) {
	profile, ok := profiles[slug]
	if ok {
		return profile, nil
	}
	return Profile{}, fmt.Errorf("no predefined image profile named %q", slug)
}

// ListProfiles returns every predefined geometry, sorted by slug.
func ListProfiles() []Profile {
	all := make([]Profile, 0, len(profiles))
	for _, profile := range profiles {
		all = append(all, profile)
	}
	sort.Slice(all, func(i, j int) bool {
		return all[i].Slug < all[j].Slug
	})
	return all
}
