package engine

import (
	"strings"

	"github.com/lazypower/affinity/internal/textsim"
)

// vocabulary is the fixed list of named entities whose co-occurrence in two
// items counts toward their affinity. Terms are lower-case and matched as
// whole words (multi-word terms as whole phrases).
var vocabulary = []string{
	// software
	"photoshop", "illustrator", "indesign", "procreate", "blender", "sketchup",
	"autocad", "revit", "archicad", "rhino", "grasshopper", "lumion", "twinmotion",
	"krita", "figma", "affinity designer", "3ds max", "cinema 4d", "v-ray",
	// materials
	"béton", "concrete", "acier", "steel", "verre", "glass", "brique", "brick",
	"pierre", "stone", "terre crue", "chanvre", "paille", "straw", "zinc",
	"cuivre", "copper", "bambou", "bamboo", "clt", "lamellé-collé",
	// techniques
	"aquarelle", "watercolor", "gouache", "fusain", "charcoal", "encre", "ink",
	"sérigraphie", "screenprint", "linogravure", "gravure", "lithographie",
	"collage", "croquis", "sketch", "perspective", "axonométrie", "axonometric",
	"rendu", "rendering", "maquette", "photogrammétrie",
	// styles
	"brutalisme", "brutalist", "minimaliste", "minimalist", "bauhaus",
	"art déco", "art nouveau", "haussmannien", "contemporain", "vernaculaire",
	"bioclimatique", "bioclimatic", "passif", "passive house",
	// building types
	"médiathèque", "bibliothèque", "library", "école", "school", "crèche",
	"gymnase", "musée", "museum", "logements", "housing", "immeuble",
	"bureaux", "offices", "halle", "pavillon", "réhabilitation", "rehabilitation",
	"extension", "surélévation", "hôpital", "hospital", "théâtre", "theatre",
}

// entitiesIn returns the vocabulary terms that occur in text as whole words.
func entitiesIn(text string) map[string]struct{} {
	tokens := textsim.Words(text)
	if len(tokens) == 0 {
		return nil
	}
	haystack := " " + strings.Join(tokens, " ") + " "

	found := make(map[string]struct{})
	for _, term := range vocabulary {
		needle := " " + strings.Join(textsim.Words(term), " ") + " "
		if strings.Contains(haystack, needle) {
			found[term] = struct{}{}
		}
	}
	return found
}

// commonEntities counts the vocabulary terms present in both texts.
func commonEntities(a, b string) int {
	ea := entitiesIn(a)
	if len(ea) == 0 {
		return 0
	}
	n := 0
	for term := range entitiesIn(b) {
		if _, ok := ea[term]; ok {
			n++
		}
	}
	return n
}
