// Package vocab loads the sub-word vocabulary shipped next to the model
// files and renders token ids as text.
package vocab

import (
	"bufio"
	"errors"
	"fmt"
	"io"
	"os"
	"strings"
)

// ErrVocabulary marks an unreadable or malformed vocabulary.
var ErrVocabulary = errors.New("vocabulary")

// WordBoundary is the sub-word marker that starts a new word.
const WordBoundary = "▁"

var (
	blankMarkers   = []string{"<blk>", "<blank>"}
	unknownMarkers = []string{"<unk>"}
)

// Vocabulary maps token ids to text pieces. It is immutable after load and
// safe to share.
type Vocabulary struct {
	pieces  []string
	blank   int
	unknown int
}

// Load reads a tokens.txt file. Each line's leading whitespace-delimited
// field is the piece; its zero-based line number is the id.
func Load(path string) (*Vocabulary, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("%w: open %s: %v", ErrVocabulary, path, err)
	}
	defer f.Close()
	return Parse(f)
}

// Parse reads a vocabulary from r.
func Parse(r io.Reader) (*Vocabulary, error) {
	var pieces []string
	scanner := bufio.NewScanner(r)
	for scanner.Scan() {
		fields := strings.Fields(scanner.Text())
		if len(fields) == 0 {
			pieces = append(pieces, "")
			continue
		}
		pieces = append(pieces, fields[0])
	}
	if err := scanner.Err(); err != nil {
		return nil, fmt.Errorf("%w: read: %v", ErrVocabulary, err)
	}
	for len(pieces) > 0 && pieces[len(pieces)-1] == "" {
		pieces = pieces[:len(pieces)-1]
	}
	return New(pieces)
}

// New builds a vocabulary from pieces indexed by id.
func New(pieces []string) (*Vocabulary, error) {
	if len(pieces) == 0 {
		return nil, fmt.Errorf("%w: no tokens", ErrVocabulary)
	}
	for i, p := range pieces {
		if p == "" {
			return nil, fmt.Errorf("%w: empty token at line %d", ErrVocabulary, i+1)
		}
	}
	v := &Vocabulary{
		pieces:  pieces,
		blank:   indexOf(pieces, blankMarkers),
		unknown: indexOf(pieces, unknownMarkers),
	}
	if v.blank < 0 {
		return nil, fmt.Errorf("%w: no blank token (%s)", ErrVocabulary, strings.Join(blankMarkers, " or "))
	}
	return v, nil
}

func indexOf(pieces []string, markers []string) int {
	for i, p := range pieces {
		for _, m := range markers {
			if p == m {
				return i
			}
		}
	}
	return -1
}

// Size is the number of token ids, blank included.
func (v *Vocabulary) Size() int { return len(v.pieces) }

// BlankID is the id meaning "no emission".
func (v *Vocabulary) BlankID() int { return v.blank }

// UnknownID is the id of the unknown token, or -1 when the vocabulary has
// none.
func (v *Vocabulary) UnknownID() int { return v.unknown }

// Piece returns the raw text piece for id.
func (v *Vocabulary) Piece(id int) (string, bool) {
	if id < 0 || id >= len(v.pieces) {
		return "", false
	}
	return v.pieces[id], true
}

// Speakable reports whether id contributes to output text.
func (v *Vocabulary) Speakable(id int) bool {
	return id >= 0 && id < len(v.pieces) && id != v.blank && id != v.unknown
}

// Text joins the pieces for ids, dropping blank, unknown and out-of-range
// ids, and turns word-boundary markers into spaces.
func (v *Vocabulary) Text(ids []int) string {
	var b strings.Builder
	for _, id := range ids {
		if !v.Speakable(id) {
			continue
		}
		b.WriteString(v.pieces[id])
	}
	return strings.TrimSpace(strings.ReplaceAll(b.String(), WordBoundary, " "))
}
