package heuristic

import (
	"math/rand/v2"
	"strings"
	"sync"
)

// rule maps any of its keywords to a fixed response.
type rule struct {
	keywords []string
	response string
}

// rules are evaluated top to bottom; the first match wins.
var rules = []rule{
	{
		keywords: []string{"bach"},
		response: "For Bach's counterpoint, I recommend practicing each voice separately before combining them. Pay attention to the independence of each line while maintaining a cohesive whole.",
	},
	{
		keywords: []string{"chopin"},
		response: "Chopin's music requires a delicate touch and expressive rubato. Practice with a flexible wrist and focus on creating a singing tone for the melodies.",
	},
	{
		keywords: []string{"beginner", "start"},
		response: "For beginners, I recommend starting with pieces like Bach's Minuet in G, Clementi's Sonatinas, or Schumann's 'The Merry Farmer'. These pieces will help develop fundamental techniques while being musically rewarding.",
	},
	{
		keywords: []string{"technique", "finger"},
		response: "To improve finger technique, practice Hanon exercises, scales, and arpeggios daily. Start slowly with a metronome and gradually increase the tempo as you gain confidence and accuracy.",
	},
}

// Pool is the fixed set of generic responses used when no rule matches.
var Pool = []string{
	"Based on your practice history, I recommend focusing on improving your finger technique. Try practicing scales slowly with a metronome, gradually increasing the tempo as you become more comfortable.",
	"For Bach's pieces, pay special attention to articulation and ornaments. Try practicing each hand separately before combining them.",
	"To improve your sight-reading skills, I recommend spending 10-15 minutes each day reading through new pieces at a comfortable tempo. Don't worry about mistakes - the goal is to keep going and train your eyes to look ahead.",
	"For your current repertoire, I suggest dividing each piece into smaller sections and practicing them intensively. Focus on one section per day, and review previously mastered sections regularly.",
	"Based on your progress, you might be ready to tackle more challenging pieces. Consider adding some Chopin or Debussy to your repertoire to develop different aspects of your technique.",
	"When practicing the Moonlight Sonata, focus on maintaining an even tempo and bringing out the melody in the top voice while keeping the triplet accompaniment soft and flowing.",
	"For Chopin's Nocturnes, work on your pedaling technique. The pedal should create a smooth, connected sound without blurring harmonies.",
	"I recommend practicing with a metronome to develop a solid sense of rhythm, especially for pieces with complex rhythmic patterns.",
}

// Responder produces canned replies without any I/O.
type Responder struct {
	mu  sync.Mutex
	rng *rand.Rand
}

// New returns a Responder drawing pool entries from the global random source.
func New() *Responder {
	return &Responder{}
}

// NewWithSource returns a Responder drawing pool entries from src.
func NewWithSource(src rand.Source) *Responder {
	return &Responder{rng: rand.New(src)}
}

// Match returns the response of the first rule whose keyword appears in text.
func Match(text string) (string, bool) {
	lower := strings.ToLower(text)
	for _, r := range rules {
		for _, kw := range r.keywords {
			if strings.Contains(lower, kw) {
				return r.response, true
			}
		}
	}
	return "", false
}

// Respond never fails and never returns an empty string.
func (r *Responder) Respond(text string) string {
	if resp, ok := Match(text); ok {
		return resp
	}
	return Pool[r.pick(len(Pool))]
}

func (r *Responder) pick(n int) int {
	if r == nil || r.rng == nil {
		return rand.IntN(n)
	}
	// rand.Rand is not safe for concurrent use.
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.rng.IntN(n)
}
