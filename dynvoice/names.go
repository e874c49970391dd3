package dynvoice

import (
	"bufio"
	"embed"
	"fmt"
	"io/fs"
	"math/rand"
	"path"
	"slices"
	"sort"
	"strings"
	"time"

	"github.com/twmb/murmur3"
)

// customNameList is the list name used for names added at runtime
const customNameList = "custom"

// maxNameParts caps the number of segmentations returned by FindNameParts
const maxNameParts = 25

//go:embed names/*.txt
var embeddedNameLists embed.FS

// NameLists holds the word lists new channels are named from. The same
// words make up the whitelist members can rename channels with.
type NameLists struct {
	// lists maps a list name to its words, as written in the file
	lists map[string][]string

	// random are the lists random names are drawn from
	random []string

	// allowed maps a list name to its lower-cased words
	allowed map[string][]string
}

// DefaultNameLists loads the embedded name lists
func DefaultNameLists() (*NameLists, error) {
	sub, err := fs.Sub(embeddedNameLists, "names")
	if err != nil {
		return nil, err
	}
	return LoadNameLists(sub, nil)
}

// LoadNameLists reads every *.txt file at the root of fsys. Random names
// are drawn from the lists named in selected, or from all of them if
// selected is empty.
func LoadNameLists(fsys fs.FS, selected []string) (*NameLists, error) {
	files, err := fs.Glob(fsys, "*.txt")
	if err != nil {
		return nil, err
	}
	n := &NameLists{
		lists:   map[string][]string{},
		allowed: map[string][]string{},
	}
	for _, fn := range files {
		words, readErr := readNameList(fsys, fn)
		if readErr != nil {
			return nil, fmt.Errorf("error reading name list %s: %w", fn, readErr)
		}
		if len(words) == 0 {
			continue
		}
		name := strings.TrimSuffix(path.Base(fn), ".txt")
		n.lists[name] = words
		lower := make([]string, 0, len(words))
		for _, w := range words {
			lower = append(lower, strings.ToLower(w))
		}
		n.allowed[name] = lower
	}

	if len(selected) == 0 {
		for name := range n.lists {
			n.random = append(n.random, name)
		}
	} else {
		for _, name := range selected {
			if _, ok := n.lists[name]; !ok {
				return nil, fmt.Errorf("unknown name list: %q", name)
			}
			n.random = append(n.random, name)
		}
	}
	if len(n.random) == 0 {
		return nil, fmt.Errorf("no name lists found")
	}
	sort.Strings(n.random)
	return n, nil
}

func readNameList(fsys fs.FS, name string) ([]string, error) {
	f, err := fsys.Open(name)
	if err != nil {
		return nil, err
	}
	defer f.Close()

	seen := map[string]bool{}
	var words []string
	scanner := bufio.NewScanner(f)
	for scanner.Scan() {
		w := strings.TrimSpace(scanner.Text())
		if w == "" || seen[w] {
			continue
		}
		seen[w] = true
		words = append(words, w)
	}
	return words, scanner.Err()
}

// ListForDay picks the list a guild draws names from on the given day.
// The choice is stable for the whole (UTC) day.
func (n *NameLists) ListForDay(guildID string, day time.Time) string {
	seed := guildID + day.UTC().Format(time.DateOnly)
	h := murmur3.Sum64([]byte(seed))
	return n.random[h%uint64(len(n.random))]
}

// RandomName returns a name from today's list which isn't in avoid.
// Falls back to the other lists, then to a numbered name.
func (n *NameLists) RandomName(
	guildID string,
	now time.Time,
	avoid map[string]bool,
	rnd *rand.Rand,
) string {
	today := n.ListForDay(guildID, now)
	if name, ok := pickName(n.lists[today], avoid, rnd); ok {
		return name
	}
	for _, list := range n.random {
		if name, ok := pickName(n.lists[list], avoid, rnd); ok {
			return name
		}
	}
	for i := 1; ; i++ {
		name := fmt.Sprintf("Voice %d", i)
		if !avoid[name] {
			return name
		}
	}
}

func pickName(words []string, avoid map[string]bool, rnd *rand.Rand) (string, bool) {
	candidates := make([]string, 0, len(words))
	for _, w := range words {
		if !avoid[w] {
			candidates = append(candidates, w)
		}
	}
	if len(candidates) == 0 {
		return "", false
	}
	return candidates[rnd.Intn(len(candidates))], true
}

// Allowed returns the lower-cased whitelist, keyed by list name, with
// custom added as its own list
func (n *NameLists) Allowed(custom []string) map[string][]string {
	rv := make(map[string][]string, len(n.allowed)+1)
	for k, v := range n.allowed {
		rv[k] = v
	}
	if len(custom) > 0 {
		lower := make([]string, 0, len(custom))
		for _, w := range custom {
			lower = append(lower, strings.ToLower(w))
		}
		rv[customNameList] = lower
	}
	return rv
}

// NamePart is a whitelisted word found in a channel name
type NamePart struct {
	List string `json:"list"`
	Word string `json:"word"`
}

// CheckName reports whether name can be built entirely from allowed
// words (case-insensitive). Spaces between words are always permitted;
// with requireWhitespaces, words must be separated by at least one.
func CheckName(name string, allowed map[string][]string, requireWhitespaces bool) bool {
	s := []rune(strings.ToLower(name))
	if len(s) == 0 {
		return false
	}
	words := allowedRunes(allowed)

	// ok[i] is true when s[i:] can be built from allowed words
	ok := make([]bool, len(s)+1)
	ok[len(s)] = true
	for i := len(s) - 1; i >= 0; i-- {
		if s[i] == ' ' {
			ok[i] = ok[i+1]
			continue
		}
		for _, w := range words {
			end := i + len(w.word)
			if !hasWordAt(s, i, w.word) || !ok[end] {
				continue
			}
			if requireWhitespaces && end < len(s) && s[end] != ' ' {
				continue
			}
			ok[i] = true
			break
		}
	}
	return ok[0]
}

// FindNameParts returns every way name can be split into allowed words,
// up to a fixed limit.
func FindNameParts(
	name string,
	allowed map[string][]string,
	requireWhitespaces bool,
) [][]NamePart {
	s := []rune(strings.ToLower(name))
	words := allowedRunes(allowed)
	var result [][]NamePart
	findNameParts(s, 0, words, requireWhitespaces, nil, &result)
	return result
}

func findNameParts(
	s []rune,
	pos int,
	words []allowedWord,
	requireWhitespaces bool,
	parts []NamePart,
	result *[][]NamePart,
) {
	if len(*result) >= maxNameParts {
		return
	}
	for pos < len(s) && s[pos] == ' ' {
		pos++
	}
	if pos == len(s) {
		if len(parts) > 0 {
			*result = append(*result, slices.Clone(parts))
		}
		return
	}
	for _, w := range words {
		if !hasWordAt(s, pos, w.word) {
			continue
		}
		end := pos + len(w.word)
		if requireWhitespaces && end < len(s) && s[end] != ' ' {
			continue
		}
		findNameParts(
			s,
			end,
			words,
			requireWhitespaces,
			append(parts, NamePart{List: w.list, Word: string(w.word)}),
			result,
		)
	}
}

type allowedWord struct {
	list string
	word []rune
}

// allowedRunes flattens the whitelist in a stable order
func allowedRunes(allowed map[string][]string) []allowedWord {
	lists := make([]string, 0, len(allowed))
	for k := range allowed {
		lists = append(lists, k)
	}
	sort.Strings(lists)

	var rv []allowedWord
	for _, list := range lists {
		for _, w := range allowed[list] {
			if w == "" {
				continue
			}
			rv = append(rv, allowedWord{list: list, word: []rune(w)})
		}
	}
	return rv
}

func hasWordAt(s []rune, pos int, word []rune) bool {
	end := pos + len(word)
	if end > len(s) {
		return false
	}
	return slices.Equal(s[pos:end], word)
}
