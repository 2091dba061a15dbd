// Package names generates human-friendly display names of the form
// "Adjective Animal" for anonymous identities.
package names

import (
	"math/rand/v2"
	"strings"

	"golang.org/x/text/cases"
	"golang.org/x/text/language"
)

var adjectives = []string{
	"agile", "amber", "ancient", "arctic", "bold", "brave", "breezy", "bright",
	"calm", "careful", "cheerful", "clever", "cosmic", "crimson", "curious", "daring",
	"dashing", "eager", "electric", "fancy", "fearless", "fluffy", "friendly", "gentle",
	"gifted", "golden", "graceful", "happy", "hidden", "humble", "icy", "jolly",
	"kind", "lively", "lucky", "lunar", "mellow", "mighty", "misty", "modest",
	"noble", "patient", "playful", "polite", "proud", "quick", "quiet", "radiant",
	"rapid", "rustic", "serene", "shiny", "silent", "silver", "sleepy", "smooth",
	"snowy", "solar", "speedy", "spotted", "steady", "stormy", "sunny", "swift",
	"tidy", "tiny", "velvet", "vivid", "wandering", "warm", "wild", "wise",
	"witty", "zesty",
}

var animals = []string{
	"albatross", "alpaca", "antelope", "badger", "beaver", "bison", "capybara", "cheetah",
	"chinchilla", "cougar", "coyote", "crane", "dolphin", "dragonfly", "eagle", "falcon",
	"ferret", "flamingo", "fox", "gazelle", "gecko", "giraffe", "hedgehog", "heron",
	"hippo", "ibex", "iguana", "jaguar", "kangaroo", "kiwi", "koala", "lemur",
	"leopard", "llama", "lynx", "manatee", "meerkat", "mongoose", "moose", "narwhal",
	"ocelot", "octopus", "otter", "owl", "panda", "panther", "pelican", "penguin",
	"platypus", "puffin", "quokka", "raccoon", "raven", "reindeer", "salamander", "seal",
	"sloth", "sparrow", "squirrel", "swan", "tapir", "tiger", "toucan", "turtle",
	"walrus", "weasel", "whale", "wolf", "wombat", "yak", "zebra",
}

// Generator produces random display names.
type Generator struct {
	title cases.Caser
	intn  func(n int) int
}

// New returns a Generator backed by math/rand/v2.
func New() *Generator {
	return &Generator{title: cases.Title(language.English), intn: rand.IntN}
}

// NewWithSource returns a Generator that draws indexes from intn. Tests use it
// to make output deterministic.
func NewWithSource(intn func(n int) int) *Generator {
	g := New()
	g.intn = intn
	return g
}

// Generate returns a name such as "Swift Otter".
func (g *Generator) Generate() string {
	adj := adjectives[g.intn(len(adjectives))]
	animal := animals[g.intn(len(animals))]
	return g.title.String(adj + " " + animal)
}

// Combinations reports how many distinct names Generate can produce.
func Combinations() int { return len(adjectives) * len(animals) }

// Valid reports whether s looks like a generated name: two title-cased words
// drawn from the known lists.
func Valid(s string) bool {
	parts := strings.Fields(s)
	if len(parts) != 2 {
		return false
	}
	return contains(adjectives, strings.ToLower(parts[0])) && contains(animals, strings.ToLower(parts[1]))
}

func contains(list []string, w string) bool {
	for _, x := range list {
		if x == w {
			return true
		}
	}
	return false
}
