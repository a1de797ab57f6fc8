// Package passphrase generates human-friendly site passwords and random
// signing secrets.
package passphrase

import (
	"crypto/rand"
	"encoding/hex"
	"fmt"
	"math/big"
	"strings"
)

const (
	wordCount = 3
	minNumber = 1000
	maxNumber = 9999
)

// Generate returns a passphrase such as "coral-sunset-tide-2026": three
// words from the word list plus a four digit number.
func Generate() (string, error) {
	parts := make([]string, 0, wordCount+1)
	for i := 0; i < wordCount; i++ {
		n, err := randInt(len(words))
		if err != nil {
			return "", err
		}
		parts = append(parts, words[n])
	}
	n, err := randInt(maxNumber - minNumber + 1)
	if err != nil {
		return "", err
	}
	parts = append(parts, fmt.Sprint(minNumber+n))
	return strings.Join(parts, "-"), nil
}

// NewSecret returns 256 bits of randomness, hex encoded.
func NewSecret() (string, error) {
	b := make([]byte, 32)
	if _, err := rand.Read(b); err != nil {
		return "", fmt.Errorf("read random bytes: %w", err)
	}
	return hex.EncodeToString(b), nil
}

func randInt(n int) (int, error) {
	v, err := rand.Int(rand.Reader, big.NewInt(int64(n)))
	if err != nil {
		return 0, fmt.Errorf("read random int: %w", err)
	}
	return int(v.Int64()), nil
}

var words = []string{
	"amber", "anchor", "apple", "arrow", "aspen", "atlas", "autumn", "badge",
	"bamboo", "banner", "basin", "beacon", "berry", "birch", "blossom", "bolt",
	"breeze", "bridge", "brook", "canyon", "cedar", "cello", "chalk", "cherry",
	"cinder", "citrus", "clover", "cobalt", "comet", "copper", "coral", "cotton",
	"crane", "crystal", "cypress", "dawn", "delta", "desert", "dune", "eagle",
	"echo", "ember", "falcon", "fern", "fjord", "flint", "forest", "fountain",
	"galaxy", "garnet", "glacier", "grove", "harbor", "hazel", "heron", "horizon",
	"indigo", "island", "ivory", "jade", "jasmine", "juniper", "kettle", "kite",
	"lagoon", "lantern", "laurel", "lemon", "lilac", "linen", "lotus", "lunar",
	"maple", "marble", "meadow", "mesa", "meteor", "mint", "mist", "monsoon",
	"mosaic", "nectar", "nimbus", "north", "oasis", "ocean", "olive", "onyx",
	"orbit", "orchid", "otter", "pebble", "pepper", "pine", "planet", "plume",
	"polar", "prairie", "prism", "quartz", "quill", "rain", "raven", "reef",
	"ridge", "river", "robin", "saffron", "sage", "sail", "sapphire", "shore",
	"sierra", "silver", "sky", "slate", "solar", "sparrow", "spruce", "star",
	"stone", "summit", "sunset", "swift", "tide", "timber", "topaz", "trail",
	"tulip", "tundra", "valley", "velvet", "violet", "willow", "winter", "zephyr",
}
